package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lectern/internal/services"
)

// Video describes the provider's metadata for one entity.
type Video struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Channel         string  `json:"channel"`
	DurationSeconds float64 `json:"duration_seconds"`
	PublishedAt     string  `json:"published_at"`
}

// Track describes one caption track attached to a video.
type Track struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Kind     string `json:"kind"`
	Label    string `json:"label"`
}

// Cue is a single caption line with timing in seconds.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Track kinds reported by the caption provider.
const (
	KindManual = "manual"
	KindAuto   = "auto"
)

// IsManual reports whether the track was authored by a person rather than
// generated by speech recognition.
func (t Track) IsManual() bool {
	return strings.EqualFold(strings.TrimSpace(t.Kind), KindManual)
}

// Client provides access to the caption provider API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient creates a caption provider client.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("transcript base url required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Metadata fetches the provider metadata for an entity.
func (c *Client) Metadata(ctx context.Context, entityID string) (*Video, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, errors.New("entity id must not be empty")
	}
	var payload Video
	if err := c.get(ctx, "metadata", "/videos/"+url.PathEscape(entityID), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Tracks lists the caption tracks available for an entity.
func (c *Client) Tracks(ctx context.Context, entityID string) ([]Track, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, errors.New("entity id must not be empty")
	}
	var payload struct {
		Tracks []Track `json:"tracks"`
	}
	if err := c.get(ctx, "tracks", "/videos/"+url.PathEscape(entityID)+"/tracks", &payload); err != nil {
		return nil, err
	}
	return payload.Tracks, nil
}

// Cues fetches the cue list for one caption track.
func (c *Client) Cues(ctx context.Context, entityID, trackID string) ([]Cue, error) {
	entityID = strings.TrimSpace(entityID)
	trackID = strings.TrimSpace(trackID)
	if entityID == "" || trackID == "" {
		return nil, errors.New("entity id and track id must not be empty")
	}
	var payload struct {
		Cues []Cue `json:"cues"`
	}
	path := "/videos/" + url.PathEscape(entityID) + "/tracks/" + url.PathEscape(trackID)
	if err := c.get(ctx, "cues", path, &payload); err != nil {
		return nil, err
	}
	return payload.Cues, nil
}

// Ping verifies the provider endpoint is reachable. Any HTTP response counts
// as reachable; only transport failures are reported.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transcript api unreachable: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (c *Client) get(ctx context.Context, operation, path string, out any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse transcript url: %w", err)
	}
	if c.apiKey != "" {
		params := endpoint.Query()
		params.Set("api_key", c.apiKey)
		endpoint.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transcript", operation,
			fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "transcript", operation,
			fmt.Sprintf("provider returned 404 for %s", path), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "transcript", operation,
			fmt.Sprintf("provider rejected credentials (%d)", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return services.Wrap(services.ErrExternalTool, "transcript", operation,
			fmt.Sprintf("provider returned %d (latency=%v)", resp.StatusCode, latency), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrExternalTool, "transcript", operation, "decode response", err)
	}
	return nil
}
