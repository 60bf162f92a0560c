package httpx

import (
	"net/http"
	"time"
)

// RetryTransport retries requests that fail at the transport level
// (connection refused, reset, timeout before any response). Responses,
// including 5xx, are never retried: the service owns request semantics
// and the poll loop above this layer already tolerates failed cycles.
type RetryTransport struct {
	Base     http.RoundTripper
	Attempts int
	Backoff  time.Duration
	MaxWait  time.Duration
}

func (t *RetryTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempts := t.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := t.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxWait := t.MaxWait
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := backoff << (attempt - 1)
			if wait > maxWait {
				wait = maxWait
			}
			timer := time.NewTimer(wait)
			select {
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			case <-timer.C:
			}
		}

		attemptReq := req
		if attempt > 0 {
			if req.GetBody == nil && req.Body != nil {
				// Body already consumed and not replayable.
				return nil, lastErr
			}
			attemptReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, lastErr
				}
				attemptReq.Body = body
			}
		}

		resp, err := t.base().RoundTrip(attemptReq)
		if err == nil {
			return resp, nil
		}
		if req.Context().Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
