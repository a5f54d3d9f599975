package campaign

import (
	"context"
	"errors"
	"time"
)

// Store is the persistence collaborator edge for campaigns and their number
// lists. The dialer trusts no in-process counter: every progress mutation is
// one atomic SQL statement on the campaign row.
type Store interface {
	LoadRunning(ctx context.Context) ([]Campaign, error)
	LoadProgress(ctx context.Context, campaignID string) (Progress, error)
	SetStatus(ctx context.Context, campaignID string, status Status) error

	// LoadEligibleNumbers returns up to limit pending numbers with fewer
	// than maxAttempts attempts, oldest-attempt first.
	LoadEligibleNumbers(ctx context.Context, listID string, maxAttempts, limit int) ([]Number, error)

	// LoadDoNotCallSet returns the opted-out numbers as a membership set.
	LoadDoNotCallSet(ctx context.Context) (map[string]struct{}, error)

	// ClaimNumber atomically increments the number's attempt counter and
	// last-attempt timestamp and the campaign's active_calls. It reports
	// false when the number was already claimed past maxAttempts or is no
	// longer pending (a racing tick lost).
	ClaimNumber(ctx context.Context, campaignID, numberID string, maxAttempts int, now time.Time) (bool, error)

	// FinishCall records one terminal placement in a single statement:
	// active_calls-1, completed_calls+1, and successful_calls or
	// failed_calls +1 depending on success. One statement so concurrent
	// completions from other workers cannot interleave.
	FinishCall(ctx context.Context, campaignID string, success bool) error

	// FinishNumber stamps the number's final status for this campaign run.
	FinishNumber(ctx context.Context, numberID string, status NumberStatus) error

	// SkipNumber counts a number that was never dialed (invalid, or on the
	// do-not-call list) toward completion without touching active_calls.
	SkipNumber(ctx context.Context, campaignID string) error

	// MarkCompleted transitions running -> completed when every number has
	// been worked; reports whether the transition happened.
	MarkCompleted(ctx context.Context, campaignID string) (bool, error)
}

var ErrCampaignNotFound = errors.New("campaign: not found")
