package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"lectern/internal/api"
	"lectern/internal/stream"
)

// ErrNoRuns reports a resume attempt for an entity with no run history.
var ErrNoRuns = errors.New("no runs recorded for entity")

// ErrNotResumable reports a resume attempt when the entity's latest run
// failed; the caller decides whether to start fresh.
var ErrNotResumable = errors.New("latest run failed, nothing to resume")

// StatusError reports a non-2xx daemon response with the server's message.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("daemon returned status %d", e.Code)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.Code, e.Message)
}

// IsConflict reports whether err is a 409 response, raised when a run is
// already active and supersede was not requested.
func IsConflict(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict
}

// Client talks to the daemon's run endpoints.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New builds a client for the daemon API at bind. The optional token is sent
// as a bearer credential on every request.
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("daemon api bind is empty")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		// No timeout - event streams stay open until the caller cancels.
		http: &http.Client{},
	}, nil
}

// StartOptions mirrors the /start request body.
type StartOptions struct {
	Sources   []string
	Supersede bool
	Options   json.RawMessage
}

// Stream is one open event stream. Next blocks until an envelope arrives or
// the stream ends; Close aborts the connection without touching the run.
type Stream struct {
	// RunID is the wire run id, learned from the response header before the
	// first event.
	RunID string

	body io.ReadCloser
	dec  *stream.Decoder
}

// Next returns the next envelope from the stream.
func (s *Stream) Next() (stream.Envelope, error) {
	return s.dec.Next()
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Resumed is the outcome of a resume call: exactly one of Stream (attached
// to the in-flight run) or Completed (registry snapshot) is set.
type Resumed struct {
	Stream    *Stream
	Completed *api.ResumeCompleted
}

// StartRun asks the daemon to start a run for the entity and returns the
// event stream. The run keeps executing if the stream is closed.
func (c *Client) StartRun(ctx context.Context, entityID string, opts StartOptions) (*Stream, error) {
	body, err := json.Marshal(api.StartRunRequest{
		Sources:   opts.Sources,
		Supersede: opts.Supersede,
		Options:   opts.Options,
	})
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/start/"+url.PathEscape(entityID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, drainError(resp)
	}
	return newStream(resp), nil
}

// ResumeRun reattaches to the entity's latest run. A completed run comes back
// as a registry snapshot, an in-flight run as a live event stream.
func (c *Client) ResumeRun(ctx context.Context, entityID string) (Resumed, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/resume/"+url.PathEscape(entityID), nil)
	if err != nil {
		return Resumed{}, err
	}
	req.Header.Set("Accept", "text/event-stream, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Resumed{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		err := drainError(resp)
		return Resumed{}, fmt.Errorf("%w: %s", ErrNoRuns, statusMessage(err))
	case http.StatusConflict:
		err := drainError(resp)
		return Resumed{}, fmt.Errorf("%w: %s", ErrNotResumable, statusMessage(err))
	default:
		return Resumed{}, drainError(resp)
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		return Resumed{Stream: newStream(resp)}, nil
	}

	defer resp.Body.Close()
	var completed api.ResumeCompleted
	if err := json.NewDecoder(resp.Body).Decode(&completed); err != nil {
		return Resumed{}, fmt.Errorf("decode resume response: %w", err)
	}
	return Resumed{Completed: &completed}, nil
}

// Status fetches the entity's registry snapshot.
func (c *Client) Status(ctx context.Context, entityID string) (api.EntityStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/status/"+url.PathEscape(entityID), nil)
	if err != nil {
		return api.EntityStatus{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return api.EntityStatus{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return api.EntityStatus{}, readError(resp)
	}

	var status api.EntityStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return api.EntityStatus{}, fmt.Errorf("decode status response: %w", err)
	}
	return status, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func newStream(resp *http.Response) *Stream {
	return &Stream{
		RunID: resp.Header.Get(api.RunTokenHeader),
		body:  resp.Body,
		dec:   stream.NewDecoder(resp.Body),
	}
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/event-stream"
}

// drainError consumes the response body and returns a *StatusError carrying
// the server's message.
func drainError(resp *http.Response) error {
	defer resp.Body.Close()
	return readError(resp)
}

func readError(resp *http.Response) error {
	message := ""
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var payload api.ErrorResponse
		if jsonErr := json.Unmarshal(body, &payload); jsonErr == nil && payload.Error != "" {
			message = payload.Error
		} else {
			message = strings.TrimSpace(string(body))
		}
	}
	return &StatusError{Code: resp.StatusCode, Message: message}
}

func statusMessage(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return statusErr.Message
	}
	return "entity has no resumable run"
}
