package smooth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/circlemind-ai/smooth-sdk/internal/idgen"
)

// taskService is the slice of the API surface the handles need. The
// Client implements it; tests substitute a scripted fake.
type taskService interface {
	getTask(ctx context.Context, id string, q taskQuery) (*TaskResponse, error)
	sendTaskEvent(ctx context.Context, id string, evt TaskEvent) error
	deleteTask(ctx context.Context, id string) error
}

// taskQuery carries the optional query parameters of a task fetch.
// withEvents asks for the events newer than eventsSince; plain fetches
// omit the parameter entirely.
type taskQuery struct {
	eventsSince int64
	withEvents  bool
	downloads   bool
}

// TaskHandle is a reference to a submitted task. Handles are cheap and
// internally synchronized; a background poll loop runs only while at
// least one blocking call (Result, LiveURL, Use, ...) holds a
// connection.
type TaskHandle struct {
	id           string
	svc          taskService
	runner       *toolRunner
	pollInterval time.Duration

	mu         sync.Mutex
	refs       int
	seeding    chan struct{}
	snapshot   *TaskResponse
	watermark  int64
	pending    map[string]chan actionResult
	cancelPoll context.CancelFunc
	pollDone   chan struct{}
}

func newTaskHandle(id string, svc taskService, tools []*Tool, pollInterval time.Duration) *TaskHandle {
	return &TaskHandle{
		id:           id,
		svc:          svc,
		runner:       newToolRunner(tools),
		pollInterval: pollInterval,
		pending:      map[string]chan actionResult{},
	}
}

// ID returns the task identifier.
func (h *TaskHandle) ID() string { return h.id }

func (h *TaskHandle) cached() *TaskResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot
}

// Result blocks until the task reaches a terminal status and returns the
// final task state. A zero timeout waits indefinitely; a non-zero
// timeout must be at least one second. An essential tool failure aborts
// the wait.
func (h *TaskHandle) Result(ctx context.Context, timeout time.Duration) (*TaskResponse, error) {
	if snap := h.cached(); snap != nil && snap.Status.Terminal() {
		return snap, nil
	}
	if timeout != 0 && timeout < time.Second {
		return nil, fmt.Errorf("%w: timeout must be at least one second", ErrInvalidArgument)
	}

	if err := h.connect(ctx); err != nil {
		return nil, err
	}
	defer h.disconnect()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := h.runner.Err(); err != nil {
			return nil, err
		}
		if snap := h.cached(); snap != nil && snap.Status.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("%w: task %s did not complete within %s", ErrTimeout, h.id, timeout)
		case <-ticker.C:
		}
	}
}

// LiveURLOptions configures the viewer URL returned by LiveURL.
type LiveURLOptions struct {
	// Interactive allows the viewer to control the browser.
	Interactive bool
	// Embed strips the viewer chrome for iframe embedding.
	Embed bool
	// Timeout bounds the wait; zero waits indefinitely.
	Timeout time.Duration
}

// LiveURL waits for the task's live viewer URL and returns it with the
// interactive/embed parameters applied.
func (h *TaskHandle) LiveURL(ctx context.Context, opts LiveURLOptions) (string, error) {
	if snap := h.cached(); snap != nil && snap.LiveURL != nil && *snap.LiveURL != "" {
		return encodeLiveURL(*snap.LiveURL, opts.Interactive, opts.Embed)
	}

	if err := h.connect(ctx); err != nil {
		return "", err
	}
	defer h.disconnect()

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if snap := h.cached(); snap != nil {
			if snap.LiveURL != nil && *snap.LiveURL != "" {
				return encodeLiveURL(*snap.LiveURL, opts.Interactive, opts.Embed)
			}
			if snap.Status.Terminal() {
				return "", fmt.Errorf("%w: live URL for task %s", ErrNotAvailable, h.id)
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", fmt.Errorf("%w: live URL for task %s", ErrTimeout, h.id)
		case <-ticker.C:
		}
	}
}

// RecordingURL returns the URL of the task recording. It is available
// only once the task has finished; a finished task that was created
// with recording disabled yields a not-found APIError.
func (h *TaskHandle) RecordingURL(ctx context.Context, timeout time.Duration) (string, error) {
	if snap := h.cached(); snap != nil && snap.RecordingURL != nil {
		return recordingFrom(snap, h.id)
	}

	if err := h.connect(ctx); err != nil {
		return "", err
	}
	defer h.disconnect()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if snap := h.cached(); snap != nil {
			if !snap.Status.Terminal() {
				return "", fmt.Errorf("%w: recording URL for task %s while it is still running", ErrNotAvailable, h.id)
			}
			if snap.RecordingURL != nil {
				return recordingFrom(snap, h.id)
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", fmt.Errorf("%w: recording URL for task %s", ErrTimeout, h.id)
		case <-ticker.C:
		}
	}
}

func recordingFrom(snap *TaskResponse, id string) (string, error) {
	if *snap.RecordingURL == "" {
		return "", &APIError{
			StatusCode: 404,
			Detail:     fmt.Sprintf("recording not available for task %s; create the task with recording enabled", id),
		}
	}
	return *snap.RecordingURL, nil
}

// DownloadsURL returns the URL of the archive of files the task
// downloaded. The archive is assembled lazily server-side, so finished
// tasks are re-fetched until the URL settles.
func (h *TaskHandle) DownloadsURL(ctx context.Context, timeout time.Duration) (string, error) {
	if snap := h.cached(); snap != nil && snap.DownloadsURL != nil {
		return downloadsFrom(snap, h.id)
	}

	if err := h.connect(ctx); err != nil {
		return "", err
	}
	defer h.disconnect()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if snap := h.cached(); snap != nil {
			if !snap.Status.Terminal() {
				return "", fmt.Errorf("%w: downloads URL for task %s while it is still running", ErrNotAvailable, h.id)
			}
			resp, err := h.svc.getTask(ctx, h.id, taskQuery{downloads: true})
			if err != nil {
				return "", err
			}
			if resp.DownloadsURL != nil {
				return downloadsFrom(resp, h.id)
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", fmt.Errorf("%w: downloads URL for task %s", ErrTimeout, h.id)
		case <-time.After(800 * time.Millisecond):
		}
	}
}

func downloadsFrom(snap *TaskResponse, id string) (string, error) {
	if *snap.DownloadsURL == "" {
		return "", &APIError{
			StatusCode: 404,
			Detail:     fmt.Sprintf("no downloads available for task %s", id),
		}
	}
	return *snap.DownloadsURL, nil
}

// SendEvent submits an event to the task without waiting for a
// response. An id is assigned when the event carries none.
func (h *TaskHandle) SendEvent(ctx context.Context, evt TaskEvent) error {
	if evt.ID == "" {
		evt.ID = idgen.Event()
	}
	return h.svc.sendTaskEvent(ctx, h.id, evt)
}

// action submits a browser action and blocks until the agent reports
// its outcome. The handle must be connected for the response to be
// observed.
func (h *TaskHandle) action(ctx context.Context, name string, input map[string]any) (any, error) {
	evt := TaskEvent{
		ID:   idgen.Event(),
		Name: eventBrowserAction,
		Payload: map[string]any{
			"name":  name,
			"input": input,
		},
	}
	ch := h.register(evt.ID)
	if err := h.svc.sendTaskEvent(ctx, h.id, evt); err != nil {
		h.unregister(evt.ID)
		return nil, err
	}
	return h.awaitResult(ctx, evt.ID, ch)
}

// Goto navigates the browser to the given URL.
func (h *TaskHandle) Goto(ctx context.Context, url string) (any, error) {
	return h.action(ctx, "goto", map[string]any{"url": url})
}

// Extract pulls structured data matching schema out of the current
// page. The optional prompt steers the extraction.
func (h *TaskHandle) Extract(ctx context.Context, schema map[string]any, prompt string) (any, error) {
	input := map[string]any{"schema": schema}
	if prompt != "" {
		input["prompt"] = prompt
	}
	return h.action(ctx, "extract", input)
}

// EvaluateJS runs code in the page context and returns its value.
func (h *TaskHandle) EvaluateJS(ctx context.Context, code string, args map[string]any) (any, error) {
	return h.action(ctx, "evaluate_js", map[string]any{"js": code, "args": args})
}
