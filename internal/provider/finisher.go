package provider

import (
	"context"
	"log/slog"
	"time"

	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/webhook"
	"voiceagent-platform/pkg/logger"
)

// Notifier is the webhook emitter edge; satisfied by webhook.Emitter.
type Notifier interface {
	Emit(event, callID string, data any)
}

// Finisher runs the terminal-transition protocol shared by all adapters:
// price the accumulated usage, hand the finished session to the persistence
// collaborator, notify the webhook edge, then evict from the registry.
//
// A session must already be terminal when Finish is called; the first caller
// wins (adapters race EndCall against their own relay loop) and the loser's
// Transition returned ErrAlreadyTerminal before reaching here.
type Finisher struct {
	Registry *call.Registry
	Results  ResultStore
	Notify   Notifier
	Log      *slog.Logger
}

// Finish persists and evicts. The save is retried so a persistence blip
// cannot lose a terminal outcome; eviction only happens after the result is
// durable (or retries are exhausted and the loss is logged loudly).
func (f *Finisher) Finish(ctx context.Context, sess *call.Session, p CallProvider) {
	snap := sess.Snapshot()
	cost := p.CalculateCost(sess.Usage())

	log := logger.WithCall(f.Log, snap.CallID, snap.Provider).With("outcome", string(snap.Outcome))
	log.Info("call finished",
		"duration_s", snap.DurationSeconds,
		"cost_usd", cost.TotalUSD,
		"transcript_entries", len(snap.Transcript))

	f.saveDurably(ctx, snap, cost, log)

	event := webhook.EventCallCompleted
	if snap.Outcome == call.StateFailed {
		event = webhook.EventCallFailed
	}
	if f.Notify != nil {
		f.Notify.Emit(event, snap.CallID, map[string]any{
			"outcome":          string(snap.Outcome),
			"duration_seconds": snap.DurationSeconds,
			"cost_usd":         cost.TotalUSD,
		})
	}

	f.Registry.Remove(snap.CallID)
}

// Announce emits a non-terminal lifecycle event (call.started, call.connected)
// on behalf of an adapter. Terminal events stay with Finish.
func (f *Finisher) Announce(event, callID string, data any) {
	if f.Notify == nil {
		return
	}
	f.Notify.Emit(event, callID, data)
}

func (f *Finisher) saveDurably(ctx context.Context, snap call.Snapshot, cost billing.Cost, log *slog.Logger) {
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		err := f.Results.SaveCallResult(ctx, snap, cost)
		if err == nil {
			return
		}
		if attempt >= 6 {
			log.Error("call result lost after retries", "err", err)
			return
		}
		log.Warn("call result save failed, retrying", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			ctx = context.Background()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
