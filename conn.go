package smooth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// actionResult carries the outcome of a remote browser action back to
// the goroutine that is awaiting it.
type actionResult struct {
	value any
	err   error
}

// connect acquires a liveness reference on the handle. The first
// reference fetches a seed snapshot synchronously and starts the poll
// loop; later references only bump the counter. The counter is bumped
// only once the loop is running, so concurrent connects during the
// seed fetch wait for its outcome instead of piggybacking on a
// connection that may never come up. Every successful connect must be
// paired with a disconnect.
func (h *TaskHandle) connect(ctx context.Context) error {
	h.mu.Lock()
	for h.seeding != nil {
		wait := h.seeding
		h.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		h.mu.Lock()
	}
	if h.refs > 0 {
		h.refs++
		h.mu.Unlock()
		return nil
	}
	seeding := make(chan struct{})
	h.seeding = seeding
	h.mu.Unlock()

	resp, err := h.svc.getTask(ctx, h.id, taskQuery{withEvents: true})
	if err != nil {
		h.mu.Lock()
		h.seeding = nil
		h.mu.Unlock()
		close(seeding)
		return err
	}
	h.applyUpdate(resp)

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.mu.Lock()
	h.refs = 1
	h.seeding = nil
	h.cancelPoll = cancel
	h.pollDone = done
	h.mu.Unlock()
	close(seeding)
	go h.pollLoop(pollCtx, done)
	return nil
}

// disconnect releases one liveness reference. Dropping the last
// reference rejects every pending action, then stops the poll loop and
// waits for it to exit. Extra disconnects are ignored.
func (h *TaskHandle) disconnect() {
	h.mu.Lock()
	if h.refs == 0 {
		h.mu.Unlock()
		return
	}
	h.refs--
	if h.refs > 0 {
		h.mu.Unlock()
		return
	}
	h.failPendingLocked(ErrConnectionClosed)
	cancel := h.cancelPoll
	done := h.pollDone
	h.cancelPoll = nil
	h.pollDone = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (h *TaskHandle) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := h.pollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		h.mu.Lock()
		since := h.watermark
		h.mu.Unlock()

		resp, err := h.svc.getTask(ctx, h.id, taskQuery{eventsSince: since, withEvents: true})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("smooth: poll task %s: %v", h.id, err)
			continue
		}
		h.applyUpdate(resp)

		if resp.Status.Terminal() {
			h.mu.Lock()
			h.failPendingLocked(ErrTaskCompleted)
			h.mu.Unlock()
			return
		}
	}
}

// applyUpdate replaces the cached snapshot, then dispatches the new
// events in order, advancing the event watermark past each one.
func (h *TaskHandle) applyUpdate(resp *TaskResponse) {
	h.mu.Lock()
	h.snapshot = resp
	h.mu.Unlock()

	for _, evt := range resp.Events {
		switch evt.Name {
		case eventBrowserAction:
			h.deliver(evt)
		case eventToolCall:
			if h.runner != nil {
				h.runner.dispatch(h, evt)
			}
		}
		h.mu.Lock()
		if evt.Timestamp > h.watermark {
			h.watermark = evt.Timestamp
		}
		h.mu.Unlock()
	}
}

// deliver resolves the pending action matching a browser_action result
// event. Events with no waiting caller are dropped.
func (h *TaskHandle) deliver(evt TaskEvent) {
	if evt.ID == "" {
		return
	}
	h.mu.Lock()
	ch, ok := h.pending[evt.ID]
	if ok {
		delete(h.pending, evt.ID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	code, ok := asInt(evt.Payload["code"])
	if !ok {
		ch <- actionResult{err: fmt.Errorf("action %s: malformed result code %v", evt.ID, evt.Payload["code"])}
		return
	}
	switch code {
	case 200:
		ch <- actionResult{value: evt.Payload["output"]}
	case 400:
		msg, _ := evt.Payload["output"].(string)
		if msg == "" {
			msg = "Unknown error."
		}
		ch <- actionResult{err: &ToolCallError{Message: msg}}
	case 500:
		msg, _ := evt.Payload["output"].(string)
		if msg == "" {
			msg = "Unknown error."
		}
		ch <- actionResult{err: fmt.Errorf("action %s failed: %s", evt.ID, msg)}
	default:
		ch <- actionResult{err: fmt.Errorf("action %s: unexpected result code %d", evt.ID, code)}
	}
}

// register opens a correlation slot for an outgoing action. The channel
// is buffered so delivery never blocks the poll loop.
func (h *TaskHandle) register(actionID string) chan actionResult {
	ch := make(chan actionResult, 1)
	h.mu.Lock()
	h.pending[actionID] = ch
	h.mu.Unlock()
	return ch
}

func (h *TaskHandle) unregister(actionID string) {
	h.mu.Lock()
	delete(h.pending, actionID)
	h.mu.Unlock()
}

// failPendingLocked rejects every pending action with err. Callers must
// hold h.mu.
func (h *TaskHandle) failPendingLocked(err error) {
	for id, ch := range h.pending {
		ch <- actionResult{err: err}
		delete(h.pending, id)
	}
}

func (h *TaskHandle) awaitResult(ctx context.Context, actionID string, ch chan actionResult) (any, error) {
	select {
	case <-ctx.Done():
		h.unregister(actionID)
		return nil, ctx.Err()
	case res := <-ch:
		return res.value, res.err
	}
}

// asInt coerces the numeric shapes a decoded JSON payload may carry.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
