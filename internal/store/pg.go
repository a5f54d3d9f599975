package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/provider"
	"voiceagent-platform/internal/tools"
	"voiceagent-platform/pkg/utils"
)

// NOTE: This store assumes the following tables exist:
// - agents
// - call_results (one row per finished call, transcript and cost inline)
// - leads, appointments, payment_promises, survey_answers (tool side effects)
// - do_not_call
// - sms_outbox (drained by an external sender)

var ErrAgentNotFound = errors.New("store: agent not found")

// PG implements the persistence collaborator edges over database/sql with the
// pgx stdlib driver. Schema ownership lives outside this engine; only the
// columns read or written here are assumed.
type PG struct {
	db *sql.DB
}

func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

/* ===================== agent configuration ===================== */

// LoadAgentConfig reads one agent's call-driving configuration.
func (s *PG) LoadAgentConfig(ctx context.Context, agentID string) (provider.AgentConfig, error) {
	const q = `
SELECT id, name, provider, model, voice, language, system_prompt, greeting,
       vad_threshold, silence_duration_ms, prefix_padding_ms, temperature,
       caller_id, transfer_number, tools, max_call_duration_seconds, max_retries
FROM agents
WHERE id = $1
`
	var (
		a           provider.AgentConfig
		language    sql.NullString
		greeting    sql.NullString
		callerID    sql.NullString
		transferNum sql.NullString
		toolsJSON   []byte
		maxDuration int
	)
	if err := s.db.QueryRowContext(ctx, q, agentID).Scan(
		&a.ID,
		&a.Name,
		&a.Provider,
		&a.Model,
		&a.Voice,
		&language,
		&a.SystemPrompt,
		&greeting,
		&a.VADThreshold,
		&a.SilenceDurationMs,
		&a.PrefixPaddingMs,
		&a.Temperature,
		&callerID,
		&transferNum,
		&toolsJSON,
		&maxDuration,
		&a.MaxRetries,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return provider.AgentConfig{}, ErrAgentNotFound
		}
		return provider.AgentConfig{}, err
	}
	a.Language = language.String
	a.Greeting = greeting.String
	a.CallerID = callerID.String
	a.TransferNumber = transferNum.String
	if len(toolsJSON) > 0 {
		if err := json.Unmarshal(toolsJSON, &a.Tools); err != nil {
			return provider.AgentConfig{}, err
		}
	}
	a.MaxCallDuration = time.Duration(maxDuration) * time.Second
	return a, nil
}

/* ===================== finished calls ===================== */

// SaveCallResult persists one finished call. Idempotent on call_id so the
// finisher's retries cannot duplicate rows.
func (s *PG) SaveCallResult(ctx context.Context, snap call.Snapshot, cost billing.Cost) error {
	transcript, err := json.Marshal(snap.Transcript)
	if err != nil {
		return err
	}
	breakdown, err := json.Marshal(cost.Breakdown)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO call_results (
    call_id, provider_call_id, provider, agent_id, campaign_id,
    from_number, to_number, outcome, fail_reason,
    started_at, connected_at, ended_at, duration_seconds,
    transcript, cost_usd, cost_breakdown
)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (call_id) DO UPDATE SET
    outcome          = EXCLUDED.outcome,
    fail_reason      = EXCLUDED.fail_reason,
    ended_at         = EXCLUDED.ended_at,
    duration_seconds = EXCLUDED.duration_seconds,
    transcript       = EXCLUDED.transcript,
    cost_usd         = EXCLUDED.cost_usd,
    cost_breakdown   = EXCLUDED.cost_breakdown
`
	_, err = s.db.ExecContext(ctx, q,
		snap.CallID,
		snap.ProviderCallID,
		snap.Provider,
		snap.AgentID,
		snap.CampaignID,
		snap.From,
		snap.To,
		string(snap.Outcome),
		snap.FailReason,
		snap.StartedAt,
		snap.ConnectedAt,
		snap.EndedAt,
		snap.DurationSeconds,
		transcript,
		cost.TotalUSD,
		breakdown,
	)
	return err
}

// CallResultRow is the read model for finished calls.
type CallResultRow struct {
	CallID          string     `json:"call_id"`
	Provider        string     `json:"provider"`
	AgentID         string     `json:"agent_id"`
	CampaignID      string     `json:"campaign_id,omitempty"`
	ToNumber        string     `json:"to_number"`
	Outcome         string     `json:"outcome"`
	FailReason      string     `json:"fail_reason,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	CostUSD         float64    `json:"cost_usd"`
}

// LoadCallResult reads one finished call; (zero, false, nil) when absent.
func (s *PG) LoadCallResult(ctx context.Context, callID string) (CallResultRow, bool, error) {
	const q = `
SELECT call_id, provider, agent_id, COALESCE(campaign_id::text, ''), to_number,
       outcome, COALESCE(fail_reason, ''), started_at, ended_at, duration_seconds, cost_usd
FROM call_results
WHERE call_id = $1
`
	var r CallResultRow
	err := s.db.QueryRowContext(ctx, q, callID).Scan(
		&r.CallID, &r.Provider, &r.AgentID, &r.CampaignID, &r.ToNumber,
		&r.Outcome, &r.FailReason, &r.StartedAt, &r.EndedAt, &r.DurationSeconds, &r.CostUSD,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return CallResultRow{}, false, nil
	}
	if err != nil {
		return CallResultRow{}, false, err
	}
	return r, true, nil
}

// LoadTranscript reads the stored transcript of a finished call; (nil, false,
// nil) when the call is unknown.
func (s *PG) LoadTranscript(ctx context.Context, callID string) ([]call.TranscriptEntry, bool, error) {
	const q = `
SELECT transcript
FROM call_results
WHERE call_id = $1
`
	var raw []byte
	err := s.db.QueryRowContext(ctx, q, callID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entries []call.TranscriptEntry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, false, err
		}
	}
	return entries, true, nil
}

// CampaignReport aggregates finished calls per campaign for reporting.
type CampaignReport struct {
	CampaignID     string             `json:"campaign_id"`
	TotalCalls     int                `json:"total_calls"`
	TotalCostUSD   float64            `json:"total_cost_usd"`
	TotalDurationS int                `json:"total_duration_seconds"`
	OutcomeCounts  map[string]int     `json:"outcome_counts"`
	CostByProvider map[string]float64 `json:"cost_by_provider"`
}

// LoadCampaignReport builds the per-campaign summary from call_results.
func (s *PG) LoadCampaignReport(ctx context.Context, campaignID string) (CampaignReport, error) {
	const q = `
SELECT provider, outcome, COUNT(*), COALESCE(SUM(duration_seconds), 0), COALESCE(SUM(cost_usd), 0)
FROM call_results
WHERE campaign_id = $1
GROUP BY provider, outcome
`
	rows, err := s.db.QueryContext(ctx, q, campaignID)
	if err != nil {
		return CampaignReport{}, err
	}
	defer rows.Close()

	rep := CampaignReport{
		CampaignID:     campaignID,
		OutcomeCounts:  map[string]int{},
		CostByProvider: map[string]float64{},
	}
	for rows.Next() {
		var (
			prov, outcome  string
			count, seconds int
			cost           float64
		)
		if err := rows.Scan(&prov, &outcome, &count, &seconds, &cost); err != nil {
			return CampaignReport{}, err
		}
		rep.TotalCalls += count
		rep.TotalDurationS += seconds
		rep.TotalCostUSD += cost
		rep.OutcomeCounts[outcome] += count
		rep.CostByProvider[prov] += cost
	}
	return rep, rows.Err()
}

/* ===================== tool side effects ===================== */

func (s *PG) SaveLead(ctx context.Context, lead tools.Lead) error {
	const q = `
INSERT INTO leads (call_id, campaign_id, name, phone, email, notes, captured_at)
VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6, $7)
`
	_, err := s.db.ExecContext(ctx, q,
		lead.CallID, lead.CampaignID, lead.Name, lead.Phone, lead.Email, lead.Notes, lead.CapturedAt)
	return err
}

func (s *PG) SaveAppointment(ctx context.Context, appt tools.Appointment) error {
	const q = `
INSERT INTO appointments (call_id, phone, starts_at, notes)
VALUES ($1, $2, $3, $4)
`
	_, err := s.db.ExecContext(ctx, q, appt.CallID, appt.Phone, appt.StartsAt, appt.Notes)
	return err
}

func (s *PG) SavePaymentPromise(ctx context.Context, promise tools.PaymentPromise) error {
	const q = `
INSERT INTO payment_promises (call_id, phone, amount_usd, due_date)
VALUES ($1, $2, $3, $4)
`
	_, err := s.db.ExecContext(ctx, q, promise.CallID, promise.Phone, promise.AmountUSD, promise.DueDate)
	return err
}

func (s *PG) SaveSurveyAnswer(ctx context.Context, ans tools.SurveyAnswer) error {
	const q = `
INSERT INTO survey_answers (call_id, question, answer, answered_at)
VALUES ($1, $2, $3, NOW())
`
	_, err := s.db.ExecContext(ctx, q, ans.CallID, ans.Question, ans.Answer)
	return err
}

// AddDoNotCall records an opt-out. Re-opting-out is a no-op, not an error.
func (s *PG) AddDoNotCall(ctx context.Context, phone, reason string) error {
	const q = `
INSERT INTO do_not_call (phone, reason, added_at)
VALUES ($1, $2, NOW())
ON CONFLICT (phone) DO NOTHING
`
	_, err := s.db.ExecContext(ctx, q, phone, reason)
	return err
}

// SendSMS enqueues the message; an external worker drains the outbox. Queuing
// inside the tool call keeps mid-call latency off the SMS gateway.
func (s *PG) SendSMS(ctx context.Context, to, message string) error {
	const q = `
INSERT INTO sms_outbox (to_number, body, status, queued_at)
VALUES ($1, $2, 'queued', NOW())
`
	_, err := s.db.ExecContext(ctx, q, to, message)
	return err
}

/* ===================== transactional maintenance ===================== */

// PurgeOldResults deletes finished calls older than the retention window,
// together with their tool side-effect rows, in one transaction.
func (s *PG) PurgeOldResults(ctx context.Context, olderThan time.Time) (int64, error) {
	var purged int64
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const del = `
DELETE FROM call_results
WHERE ended_at IS NOT NULL AND ended_at < $1
`
		res, err := tx.ExecContext(ctx, del, olderThan)
		if err != nil {
			return err
		}
		purged, _ = res.RowsAffected()

		const orphans = `
DELETE FROM survey_answers
WHERE call_id NOT IN (SELECT call_id FROM call_results)
`
		_, err = tx.ExecContext(ctx, orphans)
		return err
	})
	return purged, err
}
