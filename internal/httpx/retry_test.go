package httpx

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type flakyTransport struct {
	failures int
	calls    int
	handler  http.Handler
	bodies   []string
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		f.bodies = append(f.bodies, string(data))
	}
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec.Result(), nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRetriesTransportErrors(t *testing.T) {
	flaky := &flakyTransport{failures: 2, handler: okHandler()}
	rt := &RetryTransport{Base: flaky, Attempts: 4, Backoff: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://in-process/task/t-1", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", flaky.calls)
	}
}

func TestExhaustsAttempts(t *testing.T) {
	flaky := &flakyTransport{failures: 10, handler: okHandler()}
	rt := &RetryTransport{Base: flaky, Attempts: 3, Backoff: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://in-process/task/t-1", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", flaky.calls)
	}
}

func TestReplaysBodyOnRetry(t *testing.T) {
	flaky := &flakyTransport{failures: 1, handler: okHandler()}
	rt := &RetryTransport{Base: flaky, Attempts: 2, Backoff: time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "http://in-process/task", bytes.NewReader([]byte(`{"task":"x"}`)))
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	defer resp.Body.Close()
	if len(flaky.bodies) != 2 || flaky.bodies[0] != flaky.bodies[1] {
		t.Fatalf("expected identical body on both attempts, got %v", flaky.bodies)
	}
}

func TestDoesNotRetryHTTPErrors(t *testing.T) {
	flaky := &flakyTransport{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})}
	rt := &RetryTransport{Base: flaky, Attempts: 3, Backoff: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://in-process/task/t-1", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	defer resp.Body.Close()
	if flaky.calls != 1 {
		t.Fatalf("5xx must not be retried, got %d attempts", flaky.calls)
	}
}
