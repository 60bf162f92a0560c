package smooth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func strptr(s string) *string { return &s }

func TestResultCachedTerminalFastPath(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandle(svc)
	done := &TaskResponse{ID: "t1", Status: StatusDone, Output: "42"}
	h.mu.Lock()
	h.snapshot = done
	h.mu.Unlock()

	resp, err := h.Result(context.Background(), 0)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if resp != done {
		t.Fatal("expected the cached snapshot")
	}
	if svc.calls() != 0 {
		t.Fatalf("fast path made %d network calls", svc.calls())
	}
}

func TestResultRejectsSubSecondTimeoutBeforeNetwork(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandle(svc)

	_, err := h.Result(context.Background(), 500*time.Millisecond)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if svc.calls() != 0 {
		t.Fatalf("validation made %d network calls", svc.calls())
	}
}

func TestResultWaitsForTerminalAndDisconnects(t *testing.T) {
	svc := &fakeService{}
	svc.queue(running("t1"))
	svc.queue(&TaskResponse{ID: "t1", Status: StatusDone, Output: "done!"})
	h := newTestHandle(svc)

	resp, err := h.Result(context.Background(), 0)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if resp.Status != StatusDone || resp.Output != "done!" {
		t.Fatalf("resp = %+v", resp)
	}

	h.mu.Lock()
	refs := h.refs
	h.mu.Unlock()
	if refs != 0 {
		t.Fatalf("refs = %d after Result, want 0", refs)
	}
}

func TestResultTimesOut(t *testing.T) {
	svc := &fakeService{}
	svc.queue(running("t1"))
	h := newTestHandle(svc)

	_, err := h.Result(context.Background(), time.Second)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestResultSurfacesEssentialToolFailure(t *testing.T) {
	tool := NewTool(ToolSignature{Name: "critical"}, func(ctx context.Context, task *TaskHandle, args map[string]any) (any, error) {
		return nil, errors.New("db down")
	})
	svc := &fakeService{}
	svc.queue(running("t1"))
	svc.queue(&TaskResponse{ID: "t1", Status: StatusRunning, Events: []TaskEvent{
		toolCallEvent("e1", "critical", nil),
	}})
	h := newTaskHandle("t1", svc, []*Tool{tool}, 10*time.Millisecond)

	_, err := h.Result(context.Background(), 0)
	if err == nil || !strings.Contains(err.Error(), "critical") {
		t.Fatalf("err = %v, want the essential tool failure", err)
	}
}

func TestLiveURLAppliesViewerParams(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandle(svc)
	h.mu.Lock()
	h.snapshot = &TaskResponse{ID: "t1", Status: StatusRunning, LiveURL: strptr("https://live.example.com/view?b=abc")}
	h.mu.Unlock()

	got, err := h.LiveURL(context.Background(), LiveURLOptions{Interactive: true})
	if err != nil {
		t.Fatalf("LiveURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	q := u.Query()
	if q.Get("interactive") != "true" || q.Get("embed") != "false" || q.Get("b") != "abc" {
		t.Fatalf("query = %v", q)
	}
	if svc.calls() != 0 {
		t.Fatal("cached live URL must not hit the network")
	}
}

func TestLiveURLWaitsForURL(t *testing.T) {
	svc := &fakeService{}
	svc.queue(running("t1"))
	svc.queue(&TaskResponse{ID: "t1", Status: StatusRunning, LiveURL: strptr("https://live.example.com/view")})
	h := newTestHandle(svc)

	got, err := h.LiveURL(context.Background(), LiveURLOptions{})
	if err != nil {
		t.Fatalf("LiveURL: %v", err)
	}
	if !strings.HasPrefix(got, "https://live.example.com/view?") {
		t.Fatalf("got %q", got)
	}
}

func TestLiveURLFailsFastOnTerminalWithoutURL(t *testing.T) {
	svc := &fakeService{}
	svc.queue(&TaskResponse{ID: "t1", Status: StatusFailed})
	h := newTestHandle(svc)

	_, err := h.LiveURL(context.Background(), LiveURLOptions{})
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("err = %v, want ErrNotAvailable", err)
	}
}

func TestRecordingURLWhileRunning(t *testing.T) {
	svc := &fakeService{}
	svc.queue(running("t1"))
	h := newTestHandle(svc)

	_, err := h.RecordingURL(context.Background(), 0)
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("err = %v, want ErrNotAvailable", err)
	}
}

func TestRecordingURLEmptySentinelIsNotFound(t *testing.T) {
	svc := &fakeService{}
	svc.queue(&TaskResponse{ID: "t1", Status: StatusDone, RecordingURL: strptr("")})
	h := newTestHandle(svc)

	_, err := h.RecordingURL(context.Background(), 0)
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want 404 APIError", err)
	}
}

func TestRecordingURLReturned(t *testing.T) {
	svc := &fakeService{}
	svc.queue(&TaskResponse{ID: "t1", Status: StatusDone, RecordingURL: strptr("https://cdn.example.com/rec.mp4")})
	h := newTestHandle(svc)

	got, err := h.RecordingURL(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecordingURL: %v", err)
	}
	if got != "https://cdn.example.com/rec.mp4" {
		t.Fatalf("got %q", got)
	}
}

func TestDownloadsURLRefetchesWithDownloads(t *testing.T) {
	svc := &fakeService{}
	svc.queue(&TaskResponse{ID: "t1", Status: StatusDone})
	svc.queue(&TaskResponse{ID: "t1", Status: StatusDone, DownloadsURL: strptr("https://cdn.example.com/files.zip")})
	h := newTestHandle(svc)

	got, err := h.DownloadsURL(context.Background(), 0)
	if err != nil {
		t.Fatalf("DownloadsURL: %v", err)
	}
	if got != "https://cdn.example.com/files.zip" {
		t.Fatalf("got %q", got)
	}
	svc.mu.Lock()
	q := svc.lastQuery
	svc.mu.Unlock()
	if !q.downloads {
		t.Fatal("final fetch did not request downloads")
	}
}

func TestGotoResolvesThroughCorrelation(t *testing.T) {
	svc := &fakeService{}
	svc.queue(running("t1"))
	svc.onSend = func(evt TaskEvent) {
		if evt.Name != eventBrowserAction {
			return
		}
		svc.queue(&TaskResponse{ID: "t1", Status: StatusRunning, Events: []TaskEvent{
			{ID: evt.ID, Name: eventBrowserAction, Payload: map[string]any{"code": float64(200), "output": map[string]any{"ok": true}}},
		}})
	}
	h := newTestHandle(svc)
	if err := h.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer h.disconnect()

	out, err := h.Goto(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Goto: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["ok"] != true {
		t.Fatalf("out = %v", out)
	}

	sent := svc.sentEvents()
	if len(sent) != 1 || sent[0].Payload["name"] != "goto" {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].ID == "" {
		t.Fatal("action event carries no correlation id")
	}
}

func TestActionRejectedWithToolCallError(t *testing.T) {
	svc := &fakeService{}
	svc.queue(running("t1"))
	svc.onSend = func(evt TaskEvent) {
		svc.queue(&TaskResponse{ID: "t1", Status: StatusRunning, Events: []TaskEvent{
			{ID: evt.ID, Name: eventBrowserAction, Payload: map[string]any{"code": float64(400), "output": "no such page"}},
		}})
	}
	h := newTestHandle(svc)
	if err := h.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer h.disconnect()

	_, err := h.Goto(context.Background(), "https://example.com/missing")
	var toolErr *ToolCallError
	if !errors.As(err, &toolErr) || toolErr.Message != "no such page" {
		t.Fatalf("err = %v, want ToolCallError(no such page)", err)
	}
}

func TestActionSendFailureUnregistersPending(t *testing.T) {
	svc := &fakeService{sendErr: errors.New("network down")}
	h := newTestHandle(svc)

	_, err := h.action(context.Background(), "goto", map[string]any{"url": "x"})
	if err == nil {
		t.Fatal("expected send failure")
	}
	h.mu.Lock()
	pending := len(h.pending)
	h.mu.Unlock()
	if pending != 0 {
		t.Fatalf("%d pending entries left after failed send", pending)
	}
}

func TestSendEventAssignsID(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandle(svc)

	if err := h.SendEvent(context.Background(), TaskEvent{Name: "note", Payload: map[string]any{"msg": "hi"}}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	sent := svc.sentEvents()
	if len(sent) != 1 || sent[0].ID == "" {
		t.Fatalf("sent = %+v, want one event with an assigned id", sent)
	}
}
