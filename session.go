package smooth

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/circlemind-ai/smooth-sdk/internal/proxy"
)

// SessionHandle is a reference to an open browser session. A session is
// a task with no objective of its own; the caller drives the browser
// through actions and RunTask.
type SessionHandle struct {
	TaskHandle

	// tunnel is the local FRP tunnel backing proxy_server="self"; nil
	// otherwise.
	tunnel *proxy.Tunnel
}

func newSessionHandle(id string, svc taskService, tools []*Tool, pollInterval time.Duration) *SessionHandle {
	s := &SessionHandle{}
	s.id = id
	s.svc = svc
	s.runner = newToolRunner(tools)
	s.pollInterval = pollInterval
	s.pending = map[string]chan actionResult{}
	return s
}

// RunTask runs a sub-task inside the open session and returns its
// output.
func (s *SessionHandle) RunTask(ctx context.Context, task SessionTask) (any, error) {
	if task.Task == "" {
		return nil, fmt.Errorf("%w: task text must not be empty", ErrInvalidArgument)
	}
	steps := task.MaxSteps
	if steps == 0 {
		steps = defaultMaxSteps
	}
	input := map[string]any{
		"task":      task.Task,
		"max_steps": steps,
	}
	if task.ResponseSchema != nil {
		input["response_model"] = task.ResponseSchema
	}
	if task.URL != "" {
		input["url"] = task.URL
	}
	if task.Metadata != nil {
		input["metadata"] = task.Metadata
	}
	return s.action(ctx, "run_task", input)
}

// Close ends the session. A forceful close deletes the task outright; a
// graceful close asks the agent to wind down and waits for its
// acknowledgement.
func (s *SessionHandle) Close(ctx context.Context, force bool) error {
	defer s.stopTunnel()
	if force {
		return s.svc.deleteTask(ctx, s.id)
	}
	_, err := s.action(ctx, "close", nil)
	return err
}

func (s *SessionHandle) stopTunnel() {
	if s.tunnel != nil {
		s.tunnel.Stop()
		s.tunnel = nil
	}
}

// Use connects the session, runs fn, and tears the session down:
// gracefully when fn succeeds, forcefully when it fails. The error
// returned by fn wins over teardown errors. The connection is released
// exactly once on every path.
func (s *SessionHandle) Use(ctx context.Context, fn func(ctx context.Context, s *SessionHandle) error) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.disconnect()

	err := fn(ctx, s)
	if err == nil {
		// Let in-flight tool invocations finish before winding down; an
		// essential tool failure fails the session.
		err = s.runner.drain()
	}
	if err != nil {
		if derr := s.Close(ctx, true); derr != nil {
			log.Printf("smooth: force-close session %s: %v", s.id, derr)
		}
		return err
	}
	if cerr := s.Close(ctx, false); cerr != nil {
		log.Printf("smooth: close session %s: %v", s.id, cerr)
	}
	return nil
}
