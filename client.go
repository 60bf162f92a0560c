// Package smooth is a client SDK for the Smooth browser-automation
// service. A Client submits tasks and opens interactive browser
// sessions; the returned handles poll task state, await browser action
// results, and serve custom tool invocations.
package smooth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/circlemind-ai/smooth-sdk/internal/httpx"
	"github.com/circlemind-ai/smooth-sdk/internal/idgen"
	"github.com/circlemind-ai/smooth-sdk/internal/proxy"
	"github.com/circlemind-ai/smooth-sdk/internal/telemetry"
)

// Version is the SDK version reported in the User-Agent header and in
// telemetry.
const Version = "0.1.0"

const (
	defaultBaseURL    = "https://api.circlemind.co/api"
	defaultAPIVersion = "v1"
	apiKeyEnv         = "CIRCLEMIND_API_KEY"
)

// Client talks to the Smooth API. It is safe for concurrent use.
type Client struct {
	apiKey       string
	baseURL      string
	httpc        *http.Client
	pollInterval time.Duration
	telemetry    *telemetry.Recorder
}

type options struct {
	apiKey       string
	baseURL      string
	apiVersion   string
	httpClient   *http.Client
	timeout      time.Duration
	retries      int
	pollInterval time.Duration
	noTelemetry  bool
}

// Option configures a Client.
type Option func(*options)

// WithAPIKey sets the API key. When unset, the CIRCLEMIND_API_KEY
// environment variable is used.
func WithAPIKey(key string) Option { return func(o *options) { o.apiKey = key } }

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = u } }

// WithAPIVersion overrides the API version path segment.
func WithAPIVersion(v string) Option { return func(o *options) { o.apiVersion = v } }

// WithHTTPClient supplies the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithTimeout sets the per-request timeout. Default is 30 seconds.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithRetries sets how many times transport-level failures are retried.
// Default is 3; zero disables retrying.
func WithRetries(n int) Option { return func(o *options) { o.retries = n } }

// WithPollInterval sets the interval of the background task poll loop.
// Default is one second.
func WithPollInterval(d time.Duration) Option { return func(o *options) { o.pollInterval = d } }

// WithoutTelemetry disables usage telemetry for this client.
func WithoutTelemetry() Option { return func(o *options) { o.noTelemetry = true } }

// NewClient builds a Client. An API key is required, either via
// WithAPIKey or the CIRCLEMIND_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	o := options{
		baseURL:      defaultBaseURL,
		apiVersion:   defaultAPIVersion,
		timeout:      30 * time.Second,
		retries:      3,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.apiKey == "" {
		o.apiKey = os.Getenv(apiKeyEnv)
	}
	if o.apiKey == "" {
		return nil, fmt.Errorf("%w: api key is required; pass WithAPIKey or set %s", ErrInvalidArgument, apiKeyEnv)
	}
	if o.baseURL == "" {
		return nil, fmt.Errorf("%w: base URL must not be empty", ErrInvalidArgument)
	}

	httpc := o.httpClient
	if httpc == nil {
		httpc = &http.Client{Timeout: o.timeout}
	}
	if o.retries > 0 {
		base := httpc.Transport
		httpc = &http.Client{
			Timeout:       httpc.Timeout,
			CheckRedirect: httpc.CheckRedirect,
			Jar:           httpc.Jar,
			Transport:     &httpx.RetryTransport{Base: base, Attempts: o.retries + 1},
		}
	}

	c := &Client{
		apiKey:       o.apiKey,
		baseURL:      joinURL(o.baseURL, o.apiVersion),
		httpc:        httpc,
		pollInterval: o.pollInterval,
	}
	if !o.noTelemetry {
		c.telemetry = telemetry.New(o.apiKey, Version, nil)
	}
	return c, nil
}

func joinURL(base, version string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + "/" + version
}

// Close flushes telemetry. The client remains usable afterwards, but
// further calls are no longer tracked.
func (c *Client) Close() {
	c.telemetry.Close()
}

// --- Tasks ---

// Run submits a task and returns a handle to it.
func (c *Client) Run(ctx context.Context, req TaskRequest) (*TaskHandle, error) {
	start := time.Now()
	handle, err := c.run(ctx, req)
	c.telemetry.RecordCall("sdk.run", map[string]any{
		"url":                req.URL,
		"device":             string(req.Device),
		"max_steps":          req.MaxSteps,
		"stealth_mode":       req.StealthMode,
		"has_response_model": req.ResponseSchema != nil,
		"has_custom_tools":   len(req.Tools) > 0,
	}, start, err)
	return handle, err
}

func (c *Client) run(ctx context.Context, req TaskRequest) (*TaskHandle, error) {
	if req.Task == "" {
		return nil, fmt.Errorf("%w: task text must not be empty", ErrInvalidArgument)
	}
	if err := normalizeRequest(&req); err != nil {
		return nil, err
	}
	resp, err := c.submitTask(ctx, req, req.Task)
	if err != nil {
		return nil, err
	}
	return newTaskHandle(resp.ID, c, req.Tools, c.pollInterval), nil
}

// Session opens an interactive browser session and returns its handle.
// With ProxyServer set to "self", a local FRP tunnel is started and the
// session's browser traffic is routed through this machine.
func (c *Client) Session(ctx context.Context, req SessionRequest) (*SessionHandle, error) {
	start := time.Now()
	handle, err := c.session(ctx, req)
	c.telemetry.RecordCall("sdk.session", map[string]any{
		"url":          req.URL,
		"device":       string(req.Device),
		"profile_id":   req.ProfileID,
		"stealth_mode": req.StealthMode,
		"proxy_server": req.ProxyServer,
	}, start, err)
	return handle, err
}

func (c *Client) session(ctx context.Context, req SessionRequest) (*SessionHandle, error) {
	selfProxy := req.ProxyServer == "self"
	if selfProxy && req.ProxyPassword == "" {
		req.ProxyPassword = idgen.Token(12)
	}

	tr := req.taskRequest()
	if err := normalizeRequest(&tr); err != nil {
		return nil, err
	}
	resp, err := c.submitTask(ctx, tr, "")
	if err != nil {
		return nil, err
	}
	handle := newSessionHandle(resp.ID, c, req.Tools, c.pollInterval)

	if selfProxy {
		liveURL, err := handle.LiveURL(ctx, LiveURLOptions{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("start self proxy: %w", err)
		}
		addr, err := proxyURLFromLive(liveURL)
		if err != nil {
			return nil, fmt.Errorf("start self proxy: %w", err)
		}
		tunnel := proxy.New(proxy.Config{
			ServerAddr: addr,
			Token:      req.ProxyPassword,
			SessionID:  resp.ID,
		})
		if err := tunnel.Start(ctx); err != nil {
			return nil, fmt.Errorf("start self proxy: %w", err)
		}
		handle.tunnel = tunnel
	}
	return handle, nil
}

func normalizeRequest(req *TaskRequest) error {
	if req.ProfileID == "" && req.SessionID != "" {
		req.ProfileID = req.SessionID
	}
	if req.Agent == "" {
		req.Agent = defaultAgent
	}
	if req.Device == "" {
		req.Device = DeviceDesktop
	}
	if req.MaxSteps == 0 {
		req.MaxSteps = defaultMaxSteps
	}
	if req.MaxSteps < 0 || req.MaxSteps > maxMaxSteps {
		return fmt.Errorf("%w: max steps must be between 1 and %d", ErrInvalidArgument, maxMaxSteps)
	}
	if req.ProxyServer == "self" && req.ProxyPassword == "" {
		req.ProxyPassword = idgen.Token(12)
	}
	return nil
}

// submitTask posts the task payload. An empty task string submits a
// session: a task the agent idles on until the caller drives it.
func (c *Client) submitTask(ctx context.Context, req TaskRequest, task string) (*TaskResponse, error) {
	payload := map[string]any{
		"agent":              req.Agent,
		"max_steps":          req.MaxSteps,
		"device":             req.Device,
		"enable_recording":   !req.DisableRecording,
		"use_adblock":        !req.DisableAdblock,
		"use_captcha_solver": !req.DisableCaptchaSolver,
		"profile_read_only":  req.ProfileReadOnly,
		"stealth_mode":       req.StealthMode,
		"show_cursor":        req.ShowCursor,
	}
	if task != "" {
		payload["task"] = task
	}
	if req.ResponseSchema != nil {
		payload["response_model"] = req.ResponseSchema
	}
	if req.URL != "" {
		payload["url"] = req.URL
	}
	if req.Metadata != nil {
		payload["metadata"] = req.Metadata
	}
	if len(req.Files) > 0 {
		payload["files"] = req.Files
	}
	if len(req.AllowedURLs) > 0 {
		payload["allowed_urls"] = req.AllowedURLs
	}
	if req.ProfileID != "" {
		payload["profile_id"] = req.ProfileID
	}
	if req.ProxyServer != "" {
		payload["proxy_server"] = req.ProxyServer
	}
	if req.ProxyUsername != "" {
		payload["proxy_username"] = req.ProxyUsername
	}
	if req.ProxyPassword != "" {
		payload["proxy_password"] = req.ProxyPassword
	}
	if len(req.Certificates) > 0 {
		payload["certificates"] = req.Certificates
	}
	if req.AdditionalTools != nil {
		payload["additional_tools"] = req.AdditionalTools
	}
	if len(req.Tools) > 0 {
		sigs := make([]ToolSignature, 0, len(req.Tools))
		for _, t := range req.Tools {
			if t != nil {
				sigs = append(sigs, t.Signature)
			}
		}
		payload["custom_tools"] = sigs
	}
	if req.ExperimentalFeatures != nil {
		payload["experimental_features"] = req.ExperimentalFeatures
	}
	if len(req.Extensions) > 0 {
		payload["extensions"] = req.Extensions
	}

	var resp TaskResponse
	if err := c.do(ctx, http.MethodPost, "/task", nil, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Task fetches the current state of a task by id.
func (c *Client) Task(ctx context.Context, id string) (*TaskResponse, error) {
	return c.getTask(ctx, id, taskQuery{})
}

// --- taskService ---

func (c *Client) getTask(ctx context.Context, id string, q taskQuery) (*TaskResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: task id must not be empty", ErrInvalidArgument)
	}
	query := url.Values{}
	if q.withEvents {
		query.Set("event_t", strconv.FormatInt(q.eventsSince, 10))
	}
	if q.downloads {
		query.Set("downloads", "true")
	}
	var resp TaskResponse
	if err := c.do(ctx, http.MethodGet, "/task/"+id, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) sendTaskEvent(ctx context.Context, id string, evt TaskEvent) error {
	if id == "" {
		return fmt.Errorf("%w: task id must not be empty", ErrInvalidArgument)
	}
	return c.do(ctx, http.MethodPost, "/task/"+id+"/event", nil, evt, nil)
}

func (c *Client) deleteTask(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: task id must not be empty", ErrInvalidArgument)
	}
	return c.do(ctx, http.MethodDelete, "/task/"+id, nil, nil, nil)
}

// --- Profiles ---

// CreateProfile creates a browser profile. With an empty id the service
// assigns one.
func (c *Client) CreateProfile(ctx context.Context, id string) (*Profile, error) {
	start := time.Now()
	body := map[string]any{}
	if id != "" {
		body["id"] = id
	}
	var p Profile
	err := c.do(ctx, http.MethodPost, "/profile", nil, body, &p)
	c.telemetry.RecordCall("sdk.create_profile", map[string]any{"profile_id": id}, start, err)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns all browser profiles of the account.
func (c *Client) ListProfiles(ctx context.Context) ([]Profile, error) {
	start := time.Now()
	var out []Profile
	err := c.do(ctx, http.MethodGet, "/profile", nil, nil, &out)
	c.telemetry.RecordCall("sdk.list_profiles", nil, start, err)
	return out, err
}

// DeleteProfile removes a browser profile.
func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: profile id must not be empty", ErrInvalidArgument)
	}
	start := time.Now()
	err := c.do(ctx, http.MethodDelete, "/profile/"+id, nil, nil, nil)
	c.telemetry.RecordCall("sdk.delete_profile", map[string]any{"profile_id": id}, start, err)
	return err
}

// --- Files ---

// UploadFile uploads a file the agent can use during tasks. The purpose
// is a short human description of what the file is for.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader, purpose string) (*UploadedFile, error) {
	start := time.Now()
	f, err := c.uploadFile(ctx, name, r, purpose)
	c.telemetry.RecordCall("sdk.upload_file", map[string]any{"purpose": purpose}, start, err)
	return f, err
}

func (c *Client) uploadFile(ctx context.Context, name string, r io.Reader, purpose string) (*UploadedFile, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: file name must not be empty", ErrInvalidArgument)
	}
	fields := map[string]string{}
	if purpose != "" {
		fields["file_purpose"] = purpose
	}
	var out UploadedFile
	if err := c.doMultipart(ctx, "/file", name, r, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFile removes an uploaded file.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: file id must not be empty", ErrInvalidArgument)
	}
	start := time.Now()
	err := c.do(ctx, http.MethodDelete, "/file/"+id, nil, nil, nil)
	c.telemetry.RecordCall("sdk.delete_file", map[string]any{"file_id": id}, start, err)
	return err
}

// --- Extensions ---

// UploadExtension uploads a packed browser extension.
func (c *Client) UploadExtension(ctx context.Context, name string, r io.Reader) (*Extension, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: extension name must not be empty", ErrInvalidArgument)
	}
	start := time.Now()
	var out Extension
	err := c.doMultipart(ctx, "/extension", name, r, nil, &out)
	c.telemetry.RecordCall("sdk.upload_extension", map[string]any{"name": name}, start, err)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExtensions returns all uploaded extensions.
func (c *Client) ListExtensions(ctx context.Context) ([]Extension, error) {
	start := time.Now()
	var out []Extension
	err := c.do(ctx, http.MethodGet, "/extension", nil, nil, &out)
	c.telemetry.RecordCall("sdk.list_extensions", nil, start, err)
	return out, err
}

// DeleteExtension removes an uploaded extension.
func (c *Client) DeleteExtension(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: extension id must not be empty", ErrInvalidArgument)
	}
	start := time.Now()
	err := c.do(ctx, http.MethodDelete, "/extension/"+id, nil, nil, nil)
	c.telemetry.RecordCall("sdk.delete_extension", map[string]any{"extension_id": id}, start, err)
	return err
}

// --- HTTP plumbing ---

// envelope is the wrapper every successful response body carries.
type envelope struct {
	R json.RawMessage `json:"r"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) doMultipart(ctx context.Context, path, filename string, r io.Reader, fields map[string]string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read upload content: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("User-Agent", "smooth-go-sdk/"+Version)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiErrorFrom(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Detail: "invalid JSON response from server"}
	}
	if err := json.Unmarshal(env.R, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Detail: fmt.Sprintf("unexpected response shape: %v", err)}
	}
	return nil
}

func apiErrorFrom(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Body = parsed
		switch d := parsed["detail"].(type) {
		case string:
			apiErr.Detail = d
		case nil:
		default:
			if raw, err := json.Marshal(d); err == nil {
				apiErr.Detail = string(raw)
			}
		}
	}
	if apiErr.Detail == "" {
		apiErr.Detail = string(body)
	}
	if apiErr.Detail == "" {
		apiErr.Detail = fmt.Sprintf("HTTP %d error", status)
	}
	return apiErr
}
