package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docrewrite/docrewrite/internal/ailink/driver"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client talks to /chat/completions on OpenAI or any compatible host.
// Provider renames the driver in errors and traces.
type Client struct {
	BaseURL    string
	APIKey     string
	Provider   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewClient(baseURL, apiKey string) *Client {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{BaseURL: base, APIKey: strings.TrimSpace(apiKey)}
}

func (c *Client) Name() string {
	if c != nil && strings.TrimSpace(c.Provider) != "" {
		return c.Provider
	}
	return "openai"
}

// Complete sends one chat completion. Non-2xx responses come back as
// *driver.ProviderError; unusable 2xx bodies wrap ErrMalformedResponse.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, errors.New("openai client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("api key is required")
	}

	payload, err := newChatRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	entry := driver.TraceEntry{
		Driver:      c.Name(),
		Endpoint:    endpoint,
		Method:      http.MethodPost,
		Model:       payload.Model,
		RequestBody: body,
	}
	resp, respBody, err := c.post(ctx, endpoint, body, &entry)
	driver.Trace(entry)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode/100 != 2 {
		return nil, driver.NewProviderError(c.Name(), resp, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrMalformedResponse, err)
	}
	return parsed.text()
}

// post performs the HTTP round trip and fills in the trace entry.
func (c *Client) post(ctx context.Context, endpoint string, body []byte, entry *driver.TraceEntry) (*http.Response, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	start := time.Now()
	defer func() { entry.DurationMs = time.Since(start).Milliseconds() }()

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		entry.Error = err.Error()
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	entry.StatusCode = resp.StatusCode
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		entry.Error = err.Error()
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if json.Valid(respBody) {
		entry.Response = respBody
	}
	return resp, respBody, nil
}
