package provider

import (
	"context"
	"time"

	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/call"
)

// CallProvider is the provider-agnostic capability set implemented by the
// bridge, sipai and pipeline adapters.
//
// Rules:
//   - No provider wire-protocol types outside the adapter packages.
//   - Initiate must never leave a half-registered session: on error the
//     registry, the telephony leg and any ephemeral state are all rolled back.
//   - EndCall is idempotent and safe on calls that never connected. Absence of
//     a live session is not an error.
type CallProvider interface {
	Name() string

	// Initiate places one call attempt. The returned session is already
	// registered and owned by this adapter until it reaches a terminal state.
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)

	// EndCall terminates a call using two independent strategies: a
	// best-effort signal to the live relay for a graceful sign-off, and a
	// direct transport-level termination that does not depend on the relay
	// being alive. It reports success if either landed or the call had
	// already ended.
	EndCall(ctx context.Context, callID string) (EndResult, error)

	// GetTranscript returns whatever is available, including for in-progress
	// calls. Read-only and non-blocking with respect to the relay loop.
	GetTranscript(ctx context.Context, callID string) ([]call.TranscriptEntry, error)

	// GetRecordingURL returns the recording URL, or "" if none exists (yet).
	GetRecordingURL(ctx context.Context, callID string) (string, error)

	// CalculateCost prices accumulated usage under this provider's billing
	// model. Pure; callable mid-call for a running estimate.
	CalculateCost(u call.Usage) billing.Cost
}

// InitiateRequest carries one logical call attempt.
type InitiateRequest struct {
	// CallID is the caller-issued correlation UUID. The dialer and the
	// outbound API mint it so retries of the same logical attempt reuse it.
	CallID string

	Agent    AgentConfig
	To       string
	CallerID string

	CampaignID   string
	CustomerName string
}

type InitiateResult struct {
	CallID string `json:"call_id"`
	// ProviderCallID is the provider-native identifier; empty for adapters
	// that track calls by a local channel only.
	ProviderCallID string     `json:"provider_call_id,omitempty"`
	State          call.State `json:"state"`
}

// EndResult reports which termination strategy landed.
type EndResult struct {
	Signaled   bool `json:"signaled"`
	Terminated bool `json:"terminated"`
	// AlreadyEnded is set when no live call existed; reported as success.
	AlreadyEnded bool `json:"already_ended"`
}

// Ended reports whether the call is down by any strategy.
func (r EndResult) Ended() bool { return r.Signaled || r.Terminated || r.AlreadyEnded }

// AgentConfig is the subset of the agent entity the engine needs to place and
// drive a call. Loaded through the persistence collaborator; never mutated
// here.
type AgentConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Provider selects the adapter: bridge, sipai or pipeline. Closed set,
	// routed once at initiation time.
	Provider string `json:"provider"`

	Model        string `json:"model"`
	Voice        string `json:"voice"`
	Language     string `json:"language,omitempty"`
	SystemPrompt string `json:"system_prompt"`
	Greeting     string `json:"greeting,omitempty"`

	// Turn-detection knobs passed through to the realtime session; the VAD
	// itself runs provider-side.
	VADThreshold      float64 `json:"vad_threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`

	CallerID       string `json:"caller_id,omitempty"`
	TransferNumber string `json:"transfer_number,omitempty"`

	Tools []string `json:"tools,omitempty"`

	MaxCallDuration time.Duration `json:"max_call_duration,omitempty"`
	MaxRetries      int           `json:"max_retries,omitempty"`
}

// ConfigStore is the persistence collaborator edge for agent configuration.
type ConfigStore interface {
	LoadAgentConfig(ctx context.Context, agentID string) (AgentConfig, error)
}

// ResultStore is the persistence collaborator edge for finished calls.
type ResultStore interface {
	SaveCallResult(ctx context.Context, snap call.Snapshot, cost billing.Cost) error
}
