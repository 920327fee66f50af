// Package bland provides the voice-call dispatch client for the Bland AI
// calling API.
package bland

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://api.bland.ai"

// Client dispatches live voice calls.
type Client interface {
	DispatchCall(ctx context.Context, req CallRequest) (*CallResponse, error)
}

// CallRequest is the request body for POST /v1/calls.
type CallRequest struct {
	PhoneNumber string `json:"phone_number"`
	Task        string `json:"task"`
	Voice       string `json:"voice,omitempty"`
	Record      bool   `json:"record,omitempty"`
	MaxDuration int    `json:"max_duration,omitempty"`
	Language    string `json:"language,omitempty"`
}

// CallResponse is the provider's acknowledgement of a dispatched call.
type CallResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Bland API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) DispatchCall(ctx context.Context, req CallRequest) (*CallResponse, error) {
	if req.PhoneNumber == "" {
		return nil, eris.New("bland: phone number is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "bland: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "bland: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "bland: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "bland: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("bland: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result CallResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "bland: unmarshal response")
	}

	return &result, nil
}
