// Package telemetry batches anonymous usage events and ships them to
// the service without ever blocking the caller. Set SMOOTH_TELEMETRY=off
// to disable it entirely.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	defaultEndpoint = "https://api.circlemind.co/api/v1/telemetry"

	flushInterval  = 5 * time.Second
	flushThreshold = 10
	maxQueueSize   = 200
)

// Event is a single telemetry record.
type Event struct {
	Event      string         `json:"event"`
	Timestamp  string         `json:"timestamp"`
	Properties map[string]any `json:"properties"`
}

// Recorder accumulates events in a bounded queue and flushes them in
// the background. All methods are safe for concurrent use; a nil
// Recorder is a valid no-op.
type Recorder struct {
	endpoint   string
	apiKey     string
	sdkVersion string
	client     *http.Client

	mu    sync.Mutex
	queue []Event

	kick      chan struct{}
	stop      chan struct{}
	flushed   chan struct{}
	closeOnce sync.Once
}

// Enabled reports whether telemetry is allowed by the environment.
func Enabled() bool {
	return !strings.EqualFold(os.Getenv("SMOOTH_TELEMETRY"), "off")
}

// New starts a recorder flushing to the telemetry endpoint. It returns
// nil when telemetry is disabled.
func New(apiKey, sdkVersion string, client *http.Client) *Recorder {
	if !Enabled() {
		return nil
	}
	endpoint := os.Getenv("SMOOTH_TELEMETRY_URL")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	r := &Recorder{
		endpoint:   endpoint,
		apiKey:     apiKey,
		sdkVersion: sdkVersion,
		client:     client,
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		flushed:    make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

func (r *Recorder) baseProperties() map[string]any {
	return map[string]any{
		"sdk_version": r.sdkVersion,
		"go_version":  runtime.Version(),
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
	}
}

// Record queues an event. The oldest event is dropped when the queue is
// full.
func (r *Recorder) Record(name string, props map[string]any) {
	if r == nil {
		return
	}
	merged := r.baseProperties()
	for k, v := range props {
		merged[k] = v
	}
	evt := Event{
		Event:      name,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Properties: merged,
	}

	r.mu.Lock()
	if len(r.queue) >= maxQueueSize {
		r.queue = r.queue[1:]
	}
	r.queue = append(r.queue, evt)
	pending := len(r.queue)
	r.mu.Unlock()

	if pending >= flushThreshold {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// RecordCall records the outcome of an SDK call, with its duration and
// error classification.
func (r *Recorder) RecordCall(name string, props map[string]any, start time.Time, err error) {
	if r == nil {
		return
	}
	if props == nil {
		props = map[string]any{}
	}
	props["duration_ms"] = float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		props["error"] = err.Error()
	}
	r.Record(name, props)
}

func (r *Recorder) flushLoop() {
	defer close(r.flushed)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			for r.flushOnce() {
			}
			return
		case <-r.kick:
		case <-ticker.C:
		}
		r.flushOnce()
	}
}

// flushOnce ships one batch and reports whether events remain queued.
// Delivery failures discard the batch; telemetry is never retried.
func (r *Recorder) flushOnce() bool {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return false
	}
	n := len(r.queue)
	if n > flushThreshold {
		n = flushThreshold
	}
	batch := make([]Event, n)
	copy(batch, r.queue[:n])
	r.queue = r.queue[n:]
	remaining := len(r.queue) > 0
	r.mu.Unlock()

	body, err := json.Marshal(map[string]any{"events": batch})
	if err != nil {
		return remaining
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return remaining
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", r.apiKey)
	resp, err := r.client.Do(req)
	if err == nil {
		resp.Body.Close()
	}
	return remaining
}

// Close flushes the remaining events and stops the background loop.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		close(r.stop)
		select {
		case <-r.flushed:
		case <-time.After(2 * time.Second):
		}
	})
}
