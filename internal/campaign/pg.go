package campaign

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGStore is the Postgres-backed Store.
//
// NOTE: This repository assumes the following tables exist:
// - campaigns
// - campaign_numbers
// - do_not_call
//
// Counter columns on campaigns are only ever touched with relative
// single-statement updates (col = col + 1); no application-side
// read-modify-write.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) LoadRunning(ctx context.Context) ([]Campaign, error) {
	const q = `
SELECT id, name, agent_id, list_id, status,
       concurrent_calls, total_numbers, completed_calls, successful_calls, failed_calls, active_calls,
       call_hours_start, call_hours_end, weekdays, timezone, max_retries,
       created_at, updated_at
FROM campaigns
WHERE status = $1
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, StatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(
			&c.ID, &c.Name, &c.AgentID, &c.ListID, &c.Status,
			&c.ConcurrentCalls, &c.TotalNumbers, &c.CompletedCalls, &c.SuccessfulCalls, &c.FailedCalls, &c.ActiveCalls,
			&c.CallHoursStart, &c.CallHoursEnd, &c.Weekdays, &c.Timezone, &c.MaxRetries,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) LoadProgress(ctx context.Context, campaignID string) (Progress, error) {
	const q = `
SELECT id, total_numbers, completed_calls, successful_calls, failed_calls, active_calls
FROM campaigns
WHERE id = $1
`
	var p Progress
	if err := s.db.QueryRowContext(ctx, q, campaignID).Scan(
		&p.CampaignID, &p.TotalNumbers, &p.CompletedCalls, &p.SuccessfulCalls, &p.FailedCalls, &p.ActiveCalls,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Progress{}, ErrCampaignNotFound
		}
		return Progress{}, err
	}
	return p, nil
}

func (s *PGStore) SetStatus(ctx context.Context, campaignID string, status Status) error {
	const q = `
UPDATE campaigns SET status = $2, updated_at = now()
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, campaignID, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

func (s *PGStore) LoadEligibleNumbers(ctx context.Context, listID string, maxAttempts, limit int) ([]Number, error) {
	const q = `
SELECT id, list_id, phone, COALESCE(name, ''), attempts, last_attempt_at, status
FROM campaign_numbers
WHERE list_id = $1 AND status = $2 AND attempts < $3
ORDER BY last_attempt_at NULLS FIRST, id
LIMIT $4
`
	rows, err := s.db.QueryContext(ctx, q, listID, NumberStatusPending, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Number
	for rows.Next() {
		var n Number
		if err := rows.Scan(&n.ID, &n.ListID, &n.Phone, &n.Name, &n.Attempts, &n.LastAttemptAt, &n.Status); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PGStore) LoadDoNotCallSet(ctx context.Context) (map[string]struct{}, error) {
	const q = `SELECT phone FROM do_not_call`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, err
		}
		set[phone] = struct{}{}
	}
	return set, rows.Err()
}

func (s *PGStore) ClaimNumber(ctx context.Context, campaignID, numberID string, maxAttempts int, now time.Time) (bool, error) {
	// Two statements, but the number claim is the gate: a racing tick that
	// lost the claim never reaches the campaign increment.
	const claim = `
UPDATE campaign_numbers
SET attempts = attempts + 1, last_attempt_at = $2
WHERE id = $1 AND status = $3 AND attempts < $4
`
	res, err := s.db.ExecContext(ctx, claim, numberID, now, NumberStatusPending, maxAttempts)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	const reserve = `
UPDATE campaigns SET active_calls = active_calls + 1, updated_at = now()
WHERE id = $1
`
	if _, err := s.db.ExecContext(ctx, reserve, campaignID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PGStore) FinishCall(ctx context.Context, campaignID string, success bool) error {
	// All three counter adjustments in one statement so a concurrent
	// completion from another worker cannot interleave between them.
	const q = `
UPDATE campaigns
SET active_calls     = GREATEST(active_calls - 1, 0),
    completed_calls  = completed_calls + 1,
    successful_calls = successful_calls + CASE WHEN $2 THEN 1 ELSE 0 END,
    failed_calls     = failed_calls + CASE WHEN $2 THEN 0 ELSE 1 END,
    updated_at       = now()
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, campaignID, success)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

func (s *PGStore) SkipNumber(ctx context.Context, campaignID string) error {
	const q = `
UPDATE campaigns
SET completed_calls = completed_calls + 1,
    failed_calls    = failed_calls + 1,
    updated_at      = now()
WHERE id = $1
`
	_, err := s.db.ExecContext(ctx, q, campaignID)
	return err
}

func (s *PGStore) FinishNumber(ctx context.Context, numberID string, status NumberStatus) error {
	const q = `
UPDATE campaign_numbers SET status = $2
WHERE id = $1
`
	_, err := s.db.ExecContext(ctx, q, numberID, status)
	return err
}

func (s *PGStore) MarkCompleted(ctx context.Context, campaignID string) (bool, error) {
	const q = `
UPDATE campaigns SET status = $2, updated_at = now()
WHERE id = $1 AND status = $3 AND completed_calls >= total_numbers
`
	res, err := s.db.ExecContext(ctx, q, campaignID, StatusCompleted, StatusRunning)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
