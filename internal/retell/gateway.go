package retell

import "context"

// Gateway is the provider-agnostic calling interface used by business logic.
//
// Rules:
// - No provider HTTP calls outside this package's adapters.
// - Every request carries the user's own provider API key; the platform has
//   no shared provider account.
// - Keep request/response types provider-agnostic.
type Gateway interface {
	Name() string

	// ConcurrencyStatus reports the provider's live quota. Failures are
	// expected (network, provider load) and non-fatal: callers fall back to a
	// conservative default slot count.
	ConcurrencyStatus(ctx context.Context, apiKey string) (ConcurrencyStatus, error)

	// PlaceCall starts one outbound call. Implementations retry transient
	// failures a bounded number of times before reporting an error.
	PlaceCall(ctx context.Context, apiKey string, req PlaceCallRequest) (PlaceCallResult, error)

	// ListNumbers returns the outbound numbers available to this API key.
	ListNumbers(ctx context.Context, apiKey string) ([]OutboundNumber, error)
}

// ConcurrencyStatus is the provider's simultaneous-call quota.
// Available slots = Limit - Current.
type ConcurrencyStatus struct {
	Current int `json:"current_concurrency"`
	Limit   int `json:"concurrency_limit"`
}

// Available returns the free slot count, never negative.
func (s ConcurrencyStatus) Available() int {
	n := s.Limit - s.Current
	if n < 0 {
		return 0
	}
	return n
}

type PlaceCallRequest struct {
	// FromNumber is the caller ID, ToNumber the callee. Digits-only E.164
	// without the leading plus.
	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`

	// AgentID selects the voice agent handling the call.
	AgentID string `json:"agent_id"`

	// TemplateVars are merged into the agent's prompt templates.
	TemplateVars map[string]string `json:"template_vars,omitempty"`
}

type PlaceCallResult struct {
	CallID string `json:"call_id"`
}

type OutboundNumber struct {
	Number       string `json:"number"`
	PrettyNumber string `json:"pretty_number,omitempty"`
	Nickname     string `json:"nickname,omitempty"`
}
