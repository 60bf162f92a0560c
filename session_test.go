package smooth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSession(svc taskService, tools []*Tool) *SessionHandle {
	return newSessionHandle("s1", svc, tools, 10*time.Millisecond)
}

// replyToActions queues a successful reply for every outgoing browser
// action, mimicking the agent.
func replyToActions(svc *fakeService, output any) {
	svc.onSend = func(evt TaskEvent) {
		if evt.Name != eventBrowserAction {
			return
		}
		svc.queue(&TaskResponse{ID: "s1", Status: StatusRunning, Events: []TaskEvent{
			{ID: evt.ID, Name: eventBrowserAction, Payload: map[string]any{"code": float64(200), "output": output}},
		}})
	}
}

func TestUseSuccessClosesGracefully(t *testing.T) {
	svc := &fakeService{}
	svc.queue(running("s1"))
	replyToActions(svc, nil)
	s := newTestSession(svc, nil)

	var ran bool
	err := s.Use(context.Background(), func(ctx context.Context, s *SessionHandle) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if !ran {
		t.Fatal("callback did not run")
	}

	sent := svc.sentEvents()
	if len(sent) != 1 || sent[0].Payload["name"] != "close" {
		t.Fatalf("sent = %+v, want one graceful close action", sent)
	}
	svc.mu.Lock()
	deletes := svc.deletes
	svc.mu.Unlock()
	if deletes != 0 {
		t.Fatalf("graceful path deleted the task %d times", deletes)
	}

	s.mu.Lock()
	refs := s.refs
	s.mu.Unlock()
	if refs != 0 {
		t.Fatalf("refs = %d after Use, want 0", refs)
	}
}

func TestUseFailureForceClosesOnce(t *testing.T) {
	svc := &fakeService{}
	svc.queue(running("s1"))
	s := newTestSession(svc, nil)

	boom := errors.New("boom")
	err := s.Use(context.Background(), func(ctx context.Context, s *SessionHandle) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Use = %v, want the callback error", err)
	}

	svc.mu.Lock()
	deletes := svc.deletes
	svc.mu.Unlock()
	if deletes != 1 {
		t.Fatalf("deleteTask called %d times, want exactly 1", deletes)
	}
	if got := len(svc.sentEvents()); got != 0 {
		t.Fatalf("failure path sent %d events, want none", got)
	}

	s.mu.Lock()
	refs := s.refs
	s.mu.Unlock()
	if refs != 0 {
		t.Fatalf("refs = %d after failed Use, want 0", refs)
	}
}

func TestUseSurfacesEssentialToolFailure(t *testing.T) {
	tool := NewTool(ToolSignature{Name: "critical"}, func(ctx context.Context, task *TaskHandle, args map[string]any) (any, error) {
		return nil, errors.New("db down")
	})
	svc := &fakeService{}
	svc.queue(running("s1"))
	svc.queue(&TaskResponse{ID: "s1", Status: StatusRunning, Events: []TaskEvent{
		toolCallEvent("e1", "critical", nil),
	}})
	s := newTestSession(svc, []*Tool{tool})

	err := s.Use(context.Background(), func(ctx context.Context, s *SessionHandle) error {
		// Give the poll loop time to dispatch the tool call.
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	if err == nil {
		t.Fatal("essential tool failure not surfaced by Use")
	}

	svc.mu.Lock()
	deletes := svc.deletes
	svc.mu.Unlock()
	if deletes != 1 {
		t.Fatalf("deleteTask called %d times, want 1", deletes)
	}
}

func TestRunTaskResolvesOutput(t *testing.T) {
	svc := &fakeService{}
	svc.queue(running("s1"))
	replyToActions(svc, "task output")
	s := newTestSession(svc, nil)

	err := s.Use(context.Background(), func(ctx context.Context, s *SessionHandle) error {
		out, err := s.RunTask(ctx, SessionTask{Task: "find the docs"})
		if err != nil {
			return err
		}
		if out != "task output" {
			t.Fatalf("out = %v", out)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}

	sent := svc.sentEvents()
	if len(sent) != 2 {
		t.Fatalf("sent %d events, want run_task then close", len(sent))
	}
	if sent[0].Payload["name"] != "run_task" {
		t.Fatalf("first action = %v, want run_task", sent[0].Payload["name"])
	}
	input, _ := sent[0].Payload["input"].(map[string]any)
	if input["task"] != "find the docs" {
		t.Fatalf("input = %v", input)
	}
	if input["max_steps"] != defaultMaxSteps {
		t.Fatalf("max_steps = %v, want default %d", input["max_steps"], defaultMaxSteps)
	}
}

func TestRunTaskRequiresText(t *testing.T) {
	s := newTestSession(&fakeService{}, nil)
	_, err := s.RunTask(context.Background(), SessionTask{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestCloseForceDeletesTask(t *testing.T) {
	svc := &fakeService{}
	s := newTestSession(svc, nil)

	if err := s.Close(context.Background(), true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	svc.mu.Lock()
	deletes := svc.deletes
	svc.mu.Unlock()
	if deletes != 1 {
		t.Fatalf("deleteTask called %d times, want 1", deletes)
	}
}
