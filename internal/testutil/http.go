package testutil

import (
	"net/http"
	"net/http/httptest"
)

// RoundTripHandler serves requests through an http.Handler without a
// network listener, so client code can be tested against an in-process
// fake of the service.
type RoundTripHandler struct {
	Handler http.Handler
}

func (rt *RoundTripHandler) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil {
		// Server handlers are guaranteed a non-nil body by net/http.
		req = req.Clone(req.Context())
		req.Body = http.NoBody
	}
	rec := httptest.NewRecorder()
	rt.Handler.ServeHTTP(rec, req)
	res := rec.Result()
	res.Request = req
	return res, nil
}

func NewInProcessClient(handler http.Handler) *http.Client {
	return &http.Client{Transport: &RoundTripHandler{Handler: handler}}
}
