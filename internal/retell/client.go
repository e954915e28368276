package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"dialer-platform/pkg/utils"
)

// Client is the Retell HTTP adapter.
//
// Endpoints used:
// - GET  /get-concurrency
// - POST /v2/create-phone-call
// - GET  /list-phone-numbers
// Auth is a per-user bearer key on every request.
type Client struct {
	baseURL string
	http    *http.Client
	retry   utils.RetryConfig
}

const defaultBaseURL = "https://api.retellai.com"

type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests, custom timeouts).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetry overrides placement retry behavior.
func WithRetry(cfg utils.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		// One retry after a 1s backoff; a second failure is reported to the
		// caller, which skips the contact.
		retry: utils.RetryConfig{Attempts: 2, BaseDelay: time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "retell" }

var ErrAPIKeyRequired = errors.New("retell: api key required")

func (c *Client) ConcurrencyStatus(ctx context.Context, apiKey string) (ConcurrencyStatus, error) {
	if apiKey == "" {
		return ConcurrencyStatus{}, ErrAPIKeyRequired
	}
	var out ConcurrencyStatus
	if err := c.do(ctx, apiKey, http.MethodGet, "/get-concurrency", nil, &out); err != nil {
		return ConcurrencyStatus{}, err
	}
	return out, nil
}

type createPhoneCallBody struct {
	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`

	OverrideAgentID string `json:"override_agent_id,omitempty"`

	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
}

type createPhoneCallResponse struct {
	CallID string `json:"call_id"`
}

func (c *Client) PlaceCall(ctx context.Context, apiKey string, req PlaceCallRequest) (PlaceCallResult, error) {
	if apiKey == "" {
		return PlaceCallResult{}, ErrAPIKeyRequired
	}
	if req.FromNumber == "" || req.ToNumber == "" {
		return PlaceCallResult{}, errors.New("retell: from and to numbers are required")
	}

	body := createPhoneCallBody{
		FromNumber:       req.FromNumber,
		ToNumber:         req.ToNumber,
		OverrideAgentID:  req.AgentID,
		DynamicVariables: req.TemplateVars,
	}

	var resp createPhoneCallResponse
	err := utils.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, apiKey, http.MethodPost, "/v2/create-phone-call", body, &resp)
	})
	if err != nil {
		return PlaceCallResult{}, err
	}
	if resp.CallID == "" {
		return PlaceCallResult{}, errors.New("retell: provider returned no call_id")
	}
	return PlaceCallResult{CallID: resp.CallID}, nil
}

type listNumbersEntry struct {
	PhoneNumber       string `json:"phone_number"`
	PhoneNumberPretty string `json:"phone_number_pretty"`
	Nickname          string `json:"nickname"`
}

func (c *Client) ListNumbers(ctx context.Context, apiKey string) ([]OutboundNumber, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	var entries []listNumbersEntry
	if err := c.do(ctx, apiKey, http.MethodGet, "/list-phone-numbers", nil, &entries); err != nil {
		return nil, err
	}
	out := make([]OutboundNumber, 0, len(entries))
	for _, e := range entries {
		out = append(out, OutboundNumber{
			Number:       e.PhoneNumber,
			PrettyNumber: e.PhoneNumberPretty,
			Nickname:     e.Nickname,
		})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, apiKey, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read keeps provider error bodies out of memory trouble.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("retell: %s %s returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
