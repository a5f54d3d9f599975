package call

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Session is the in-memory record of one in-flight or completed call.
//
// Ownership rules:
//   - Exactly one provider adapter owns a Session for its lifetime.
//   - Mutations go through methods on Session; callers must not reach into
//     fields while the relay loop is live.
//
// Terminal invariant: exactly one terminal state is ever set, set once.
// ConnectedAt is set at most once, only on the ringing->connected edge.
type Session struct {
	CallID         string `json:"call_id"`
	ProviderCallID string `json:"provider_call_id,omitempty"`

	// Provider is the adapter kind that owns this session (bridge, sipai, pipeline).
	Provider string `json:"provider"`

	AgentID string `json:"agent_id"`
	// CampaignID is empty for one-off API calls.
	CampaignID string `json:"campaign_id,omitempty"`

	From string `json:"from"`
	To   string `json:"to"`

	// CustomerName is display-only context passed into the AI prompt.
	CustomerName string `json:"customer_name,omitempty"`

	// TransferNumber is the agent's configured human-handoff destination,
	// the fallback when a transfer request names no number.
	TransferNumber string `json:"-"`

	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	mu         sync.Mutex
	state      State
	outcome    State
	failReason string
	transcript []TranscriptEntry
	usage      Usage

	// done is closed exactly once, on the first terminal transition.
	done chan struct{}
}

// TranscriptEntry is one utterance (or partial utterance) in arrival order.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Usage accumulates billable facts for one call. Token fields apply to the
// realtime (bridge) path; DurationSeconds applies to every path.
type Usage struct {
	Model string `json:"model,omitempty"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens"`

	// Detailed text/audio splits. All-zero splits with non-zero totals mean
	// the provider omitted the breakdown; billing falls back to an estimate.
	InputTextTokens   int `json:"input_text_tokens"`
	InputAudioTokens  int `json:"input_audio_tokens"`
	OutputTextTokens  int `json:"output_text_tokens"`
	OutputAudioTokens int `json:"output_audio_tokens"`
	CachedTextTokens  int `json:"cached_text_tokens"`
	CachedAudioTokens int `json:"cached_audio_tokens"`

	DurationSeconds int `json:"duration_seconds"`
}

// Add accumulates a usage delta. Used by the bridge relay on every
// response.done event so an in-progress cost estimate is always available.
func (u *Usage) Add(d Usage) {
	if d.Model != "" {
		u.Model = d.Model
	}
	u.InputTokens += d.InputTokens
	u.OutputTokens += d.OutputTokens
	u.CachedTokens += d.CachedTokens
	u.InputTextTokens += d.InputTextTokens
	u.InputAudioTokens += d.InputAudioTokens
	u.OutputTextTokens += d.OutputTextTokens
	u.OutputAudioTokens += d.OutputAudioTokens
	u.CachedTextTokens += d.CachedTextTokens
	u.CachedAudioTokens += d.CachedAudioTokens
	u.DurationSeconds += d.DurationSeconds
}

type State string

const (
	StateQueued      State = "queued"
	StateRinging     State = "ringing"
	StateConnected   State = "connected"
	StateTalking     State = "talking"
	StateOnHold      State = "on_hold"
	StateTransferred State = "transferred"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateNoAnswer    State = "no_answer"
	StateBusy        State = "busy"
)

// IsTerminal reports whether s is one of the mutually exclusive end states.
func (s State) IsTerminal() bool {
	switch s {
	case StateTransferred, StateCompleted, StateFailed, StateNoAnswer, StateBusy:
		return true
	default:
		return false
	}
}

var (
	ErrAlreadyTerminal   = errors.New("call: session already terminal")
	ErrInvalidTransition = errors.New("call: invalid state transition")
)

// transitions lists the allowed non-terminal edges. Any state may jump to a
// terminal state directly (never-answered calls go queued/ringing -> terminal).
var transitions = map[State][]State{
	StateQueued:    {StateRinging, StateConnected},
	StateRinging:   {StateConnected},
	StateConnected: {StateTalking},
	StateTalking:   {StateOnHold},
	StateOnHold:    {StateTalking},
}

// NewSession creates a session in the queued state.
func NewSession(callID, provider string) *Session {
	return &Session{
		CallID:    callID,
		Provider:  provider,
		StartedAt: time.Now().UTC(),
		state:     StateQueued,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the terminal state, or "" if the call is still live.
func (s *Session) Outcome() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// FailReason returns the captured error summary for failed sessions.
func (s *Session) FailReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failReason
}

// Done is closed on the first terminal transition. Relay subtasks select on
// it to stop.
func (s *Session) Done() <-chan struct{} { return s.done }

// Transition moves the session to next.
//
// A second terminal transition is a no-op returning ErrAlreadyTerminal so
// racing finishers (relay loop vs. EndCall) cannot double-bill. The first
// terminal transition sets EndedAt and the outcome and closes Done.
func (s *Session) Transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome != "" {
		return ErrAlreadyTerminal
	}
	if next.IsTerminal() {
		s.terminateLocked(next)
		return nil
	}
	for _, allowed := range transitions[s.state] {
		if allowed == next {
			if next == StateConnected && s.ConnectedAt == nil {
				now := time.Now().UTC()
				s.ConnectedAt = &now
			}
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
}

// terminateLocked applies the first terminal transition: state, outcome,
// EndedAt, and the Done close. Caller holds mu and has checked outcome is
// unset.
func (s *Session) terminateLocked(next State) {
	now := time.Now().UTC()
	s.state = next
	s.outcome = next
	s.EndedAt = &now
	close(s.done)
}

// Fail moves the session to failed and records the error summary. Safe to
// call on an already-terminal session (no-op). Reason and transition land in
// one critical section, so a racing terminal transition can never leave a
// fail reason on a session whose outcome is not failed.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != "" {
		return
	}
	if err != nil {
		s.failReason = err.Error()
	}
	s.terminateLocked(StateFailed)
}

// AppendTranscript appends one entry in arrival order. Entries arriving after
// the terminal transition are dropped.
func (s *Session) AppendTranscript(role, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != "" {
		return
	}
	s.transcript = append(s.transcript, TranscriptEntry{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

// Transcript returns a copy of the entries accumulated so far. Non-blocking;
// valid on in-progress calls.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// AddUsage accumulates a usage delta.
func (s *Session) AddUsage(d Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Add(d)
}

// Usage returns a copy of the accumulated usage with DurationSeconds filled
// from the connected/ended timestamps.
func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usage
	u.DurationSeconds = s.durationLocked()
	return u
}

// DurationSeconds is the billable talk time: connectedAt to endedAt (or now
// for live calls). Zero when the call never connected.
func (s *Session) DurationSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

func (s *Session) durationLocked() int {
	if s.ConnectedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	d := int(end.Sub(*s.ConnectedAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot is an immutable view for JSON responses and persistence.
type Snapshot struct {
	CallID          string            `json:"call_id"`
	ProviderCallID  string            `json:"provider_call_id,omitempty"`
	Provider        string            `json:"provider"`
	AgentID         string            `json:"agent_id"`
	CampaignID      string            `json:"campaign_id,omitempty"`
	From            string            `json:"from"`
	To              string            `json:"to"`
	CustomerName    string            `json:"customer_name,omitempty"`
	State           State             `json:"state"`
	Outcome         State             `json:"outcome,omitempty"`
	FailReason      string            `json:"fail_reason,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	ConnectedAt     *time.Time        `json:"connected_at,omitempty"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	DurationSeconds int               `json:"duration_seconds"`
	Transcript      []TranscriptEntry `json:"transcript,omitempty"`
	Usage           Usage             `json:"usage"`
}

// Snapshot copies the session under lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := make([]TranscriptEntry, len(s.transcript))
	copy(tr, s.transcript)
	u := s.usage
	u.DurationSeconds = s.durationLocked()
	return Snapshot{
		CallID:          s.CallID,
		ProviderCallID:  s.ProviderCallID,
		Provider:        s.Provider,
		AgentID:         s.AgentID,
		CampaignID:      s.CampaignID,
		From:            s.From,
		To:              s.To,
		CustomerName:    s.CustomerName,
		State:           s.state,
		Outcome:         s.outcome,
		FailReason:      s.failReason,
		StartedAt:       s.StartedAt,
		ConnectedAt:     s.ConnectedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.durationLocked(),
		Transcript:      tr,
		Usage:           u,
	}
}
