package smooth

import (
	"encoding/base64"
	"fmt"
	"io"
)

// Status is the lifecycle state of a task or session as reported by the
// service. Once a task leaves waiting/running its status is terminal and
// never reverts.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Device selects the browser form factor for a task.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
)

// TaskEvent is a named, optionally correlated message exchanged with a
// running task. ID links a submitted action to its eventual result;
// Timestamp is the server-assigned watermark used to filter already-seen
// events on subsequent polls.
type TaskEvent struct {
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	ID        string         `json:"id,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

// Event names recognized by the polling core.
const (
	eventBrowserAction = "browser_action"
	eventToolCall      = "tool_call"
)

// TaskResponse is the service's view of a task, returned by submit and
// get calls. The URL fields distinguish "not known yet" (nil) from
// "definitively unavailable" (empty string).
type TaskResponse struct {
	ID           string         `json:"id"`
	Status       Status         `json:"status"`
	Output       any            `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	Device       Device         `json:"device,omitempty"`
	LiveURL      *string        `json:"live_url,omitempty"`
	RecordingURL *string        `json:"recording_url,omitempty"`
	DownloadsURL *string        `json:"downloads_url,omitempty"`
	CreditsUsed  *int           `json:"credits_used,omitempty"`
	CreatedAt    int64          `json:"created_at,omitempty"`
	Events       []TaskEvent    `json:"events,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Certificate is a client certificate made available to the browser. File
// holds the base64-encoded p12 content; use LoadCertificate to read it
// from an io.Reader.
type Certificate struct {
	File     string `json:"file"`
	Password string `json:"password,omitempty"`
}

// LoadCertificate reads p12 certificate content and returns it encoded
// for task submission.
func LoadCertificate(r io.Reader, password string) (Certificate, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Certificate{}, fmt.Errorf("read certificate: %w", err)
	}
	return Certificate{
		File:     base64.StdEncoding.EncodeToString(data),
		Password: password,
	}, nil
}

// TaskRequest describes a task submission. Zero values select the
// documented defaults (agent "smooth", 32 steps, desktop device,
// recording enabled, adblock and captcha solver on).
type TaskRequest struct {
	Task                 string
	ResponseSchema       map[string]any
	URL                  string
	Metadata             map[string]any
	Files                []string
	Agent                string
	MaxSteps             int
	Device               Device
	AllowedURLs          []string
	DisableRecording     bool
	ProfileID            string
	ProfileReadOnly      bool
	StealthMode          bool
	ProxyServer          string
	ProxyUsername        string
	ProxyPassword        string
	Certificates         []Certificate
	DisableAdblock       bool
	DisableCaptchaSolver bool
	AdditionalTools      map[string]map[string]any
	Tools                []*Tool
	ExperimentalFeatures map[string]any
	Extensions           []string
	ShowCursor           bool

	// SessionID is the old name of ProfileID.
	//
	// Deprecated: set ProfileID instead.
	SessionID string
}

// SessionRequest describes an interactive browser session. A session is a
// task submitted without task text; the agent idles and serves actions
// until the session is closed.
type SessionRequest struct {
	URL                  string
	Files                []string
	Agent                string
	Device               Device
	AllowedURLs          []string
	DisableRecording     bool
	ProfileID            string
	ProfileReadOnly      bool
	StealthMode          bool
	ProxyServer          string
	ProxyUsername        string
	ProxyPassword        string
	Certificates         []Certificate
	DisableAdblock       bool
	DisableCaptchaSolver bool
	AdditionalTools      map[string]map[string]any
	Tools                []*Tool
	ExperimentalFeatures map[string]any
	Extensions           []string
	ShowCursor           bool
}

func (r SessionRequest) taskRequest() TaskRequest {
	return TaskRequest{
		URL:                  r.URL,
		Files:                r.Files,
		Agent:                r.Agent,
		Device:               r.Device,
		AllowedURLs:          r.AllowedURLs,
		DisableRecording:     r.DisableRecording,
		ProfileID:            r.ProfileID,
		ProfileReadOnly:      r.ProfileReadOnly,
		StealthMode:          r.StealthMode,
		ProxyServer:          r.ProxyServer,
		ProxyUsername:        r.ProxyUsername,
		ProxyPassword:        r.ProxyPassword,
		Certificates:         r.Certificates,
		DisableAdblock:       r.DisableAdblock,
		DisableCaptchaSolver: r.DisableCaptchaSolver,
		AdditionalTools:      r.AdditionalTools,
		Tools:                r.Tools,
		ExperimentalFeatures: r.ExperimentalFeatures,
		Extensions:           r.Extensions,
		ShowCursor:           r.ShowCursor,
	}
}

// SessionTask describes a sub-task executed inside an open session via
// RunTask.
type SessionTask struct {
	Task           string
	MaxSteps       int
	ResponseSchema map[string]any
	URL            string
	Metadata       map[string]any
}

// Profile is a persistent browser profile (cookies, logins, local state).
type Profile struct {
	ID string `json:"id"`
}

// Extension is an uploaded browser extension.
type Extension struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// UploadedFile is the handle returned for an uploaded file.
type UploadedFile struct {
	ID string `json:"id"`
}

const (
	defaultAgent    = "smooth"
	defaultMaxSteps = 32
	maxMaxSteps     = 64
)
