package smooth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ToolSignature describes a custom tool to the agent. It is attached to
// the task submission so the agent knows the tool exists and how to call
// it.
type ToolSignature struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Inputs      map[string]any `json:"inputs"`
	Output      string         `json:"output"`
}

// ToolFunc is the invocation contract for a custom tool. The task handle
// is always passed as the first argument; tools that do not need it
// simply ignore it. Returning a *ToolCallError reports a handled
// user-input problem to the agent; any other error is an unexpected
// failure.
type ToolFunc func(ctx context.Context, task *TaskHandle, args map[string]any) (any, error)

// Tool is a locally registered callable the remote agent may invoke
// during a task. Essential tools (the default) fail the whole task when
// their invocation fails unexpectedly; non-essential tools report the
// failure and carry on.
type Tool struct {
	Signature    ToolSignature
	Essential    bool
	ErrorMessage string

	fn ToolFunc
}

// ToolOption configures a Tool at construction time.
type ToolOption func(*Tool)

// ToolEssential marks whether an unexpected failure of the tool is fatal
// to the task flow. Tools are essential unless configured otherwise.
func ToolEssential(v bool) ToolOption {
	return func(t *Tool) { t.Essential = v }
}

// ToolErrorMessage overrides the error text reported to the agent when
// the tool fails unexpectedly.
func ToolErrorMessage(msg string) ToolOption {
	return func(t *Tool) { t.ErrorMessage = msg }
}

// NewTool registers fn under the given signature.
func NewTool(sig ToolSignature, fn ToolFunc, opts ...ToolOption) *Tool {
	t := &Tool{Signature: sig, Essential: true, fn: fn}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Name returns the registration key of the tool.
func (t *Tool) Name() string {
	return t.Signature.Name
}

// toolRunner dispatches tool_call events to registered tools, tracks the
// in-flight invocations, and reports their outcome back to the service.
// Dispatch stays safe while a drain is in progress: the poll loop may
// hand over new tool_call events at any time.
type toolRunner struct {
	tools map[string]*Tool

	mu         sync.Mutex
	dispatched map[string]struct{}
	inflight   int
	idle       chan struct{}
	fatal      error
}

func newToolRunner(tools []*Tool) *toolRunner {
	r := &toolRunner{
		tools:      map[string]*Tool{},
		dispatched: map[string]struct{}{},
	}
	for _, tool := range tools {
		if tool == nil || tool.Name() == "" {
			continue
		}
		r.tools[tool.Name()] = tool
	}
	return r
}

// dispatch starts the tool named by a tool_call event on its own
// goroutine. Unregistered tool names are silently dropped for forward
// compatibility, as are re-deliveries of an already-dispatched event id.
func (r *toolRunner) dispatch(h *TaskHandle, evt TaskEvent) {
	name, _ := evt.Payload["name"].(string)
	tool, ok := r.tools[name]
	if !ok {
		return
	}
	r.mu.Lock()
	if evt.ID != "" {
		if _, seen := r.dispatched[evt.ID]; seen {
			r.mu.Unlock()
			return
		}
		r.dispatched[evt.ID] = struct{}{}
	}
	r.inflight++
	if r.idle == nil {
		r.idle = make(chan struct{})
	}
	r.mu.Unlock()

	args, _ := evt.Payload["input"].(map[string]any)
	eventID := evt.ID
	go func() {
		r.invoke(h, tool, eventID, args)
		r.mu.Lock()
		r.inflight--
		if r.inflight == 0 {
			close(r.idle)
			r.idle = nil
		}
		r.mu.Unlock()
	}()
}

func (r *toolRunner) invoke(h *TaskHandle, tool *Tool, eventID string, args map[string]any) {
	// Invocations outlive the poll loop on purpose: a disconnect must not
	// cancel a tool that is already doing work.
	ctx := context.Background()

	out, err := tool.fn(ctx, h, args)

	code := 200
	output := out
	var toolErr *ToolCallError
	switch {
	case err == nil:
	case errors.As(err, &toolErr):
		code = 400
		output = toolErr.Message
	default:
		code = 400
		if tool.Essential {
			code = 500
		}
		msg := tool.ErrorMessage
		if msg == "" {
			msg = err.Error()
		}
		output = msg
	}

	report := TaskEvent{
		ID:   eventID,
		Name: eventToolCall,
		Payload: map[string]any{
			"code":   code,
			"output": output,
		},
	}
	if sendErr := h.svc.sendTaskEvent(ctx, h.id, report); sendErr != nil {
		log.Printf("smooth: report result of tool %s for task %s: %v", tool.Name(), h.id, sendErr)
	}

	if code == 500 {
		r.mu.Lock()
		if r.fatal == nil {
			r.fatal = fmt.Errorf("tool %s: %w", tool.Name(), err)
		}
		r.mu.Unlock()
	}
}

// Err returns the first fatal (essential-tool) failure observed so far,
// without waiting for in-flight invocations.
func (r *toolRunner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// drain waits until no invocation is in flight and returns the first
// fatal failure observed. Invocations dispatched while draining are
// waited for as well.
func (r *toolRunner) drain() error {
	r.mu.Lock()
	for r.inflight > 0 {
		idle := r.idle
		r.mu.Unlock()
		<-idle
		r.mu.Lock()
	}
	err := r.fatal
	r.mu.Unlock()
	return err
}
