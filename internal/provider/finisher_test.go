package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/webhook"
)

type recordingResults struct {
	mu       sync.Mutex
	failures int
	saved    []call.Snapshot
	costs    []billing.Cost
}

func (r *recordingResults) SaveCallResult(_ context.Context, snap call.Snapshot, cost billing.Cost) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("db unavailable")
	}
	r.saved = append(r.saved, snap)
	r.costs = append(r.costs, cost)
	return nil
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Emit(event, callID string, data any) {
	n.events = append(n.events, event)
}

type pricedProvider struct {
	stubProvider
	cost billing.Cost
}

func (p pricedProvider) CalculateCost(call.Usage) billing.Cost { return p.cost }

func newFinisher(results *recordingResults, notify *recordingNotifier) (*Finisher, *call.Registry) {
	reg := call.NewRegistry()
	return &Finisher{
		Registry: reg,
		Results:  results,
		Notify:   notify,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, reg
}

func TestFinish_SavesNotifiesEvicts(t *testing.T) {
	results := &recordingResults{}
	notify := &recordingNotifier{}
	f, reg := newFinisher(results, notify)

	sess := call.NewSession("call-1", "bridge")
	if err := reg.Insert(sess); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_ = sess.Transition(call.StateCompleted)

	p := pricedProvider{cost: billing.Cost{TotalUSD: 0.42}}
	f.Finish(context.Background(), sess, p)

	if len(results.saved) != 1 {
		t.Fatalf("saved %d results, want 1", len(results.saved))
	}
	if results.saved[0].CallID != "call-1" || results.saved[0].Outcome != call.StateCompleted {
		t.Fatalf("saved snapshot %+v", results.saved[0])
	}
	if results.costs[0].TotalUSD != 0.42 {
		t.Fatalf("saved cost %v, want 0.42", results.costs[0].TotalUSD)
	}
	if len(notify.events) != 1 || notify.events[0] != webhook.EventCallCompleted {
		t.Fatalf("events = %v, want one call.completed", notify.events)
	}
	if _, ok := reg.Get("call-1"); ok {
		t.Fatalf("session must be evicted after finish")
	}
}

func TestFinish_FailedOutcomeEmitsFailureEvent(t *testing.T) {
	results := &recordingResults{}
	notify := &recordingNotifier{}
	f, reg := newFinisher(results, notify)

	sess := call.NewSession("call-2", "sipai")
	_ = reg.Insert(sess)
	sess.Fail(errors.New("trunk rejected the call"))

	f.Finish(context.Background(), sess, stubProvider{name: "sipai"})

	if len(notify.events) != 1 || notify.events[0] != webhook.EventCallFailed {
		t.Fatalf("events = %v, want one call.failed", notify.events)
	}
}

func TestFinish_RetriesSaveBeforeEvicting(t *testing.T) {
	results := &recordingResults{failures: 1}
	f, reg := newFinisher(results, &recordingNotifier{})

	sess := call.NewSession("call-3", "pipeline")
	_ = reg.Insert(sess)
	_ = sess.Transition(call.StateNoAnswer)

	f.Finish(context.Background(), sess, stubProvider{name: "pipeline"})

	if len(results.saved) != 1 {
		t.Fatalf("save must succeed after transient failures, saved = %d", len(results.saved))
	}
	if _, ok := reg.Get("call-3"); ok {
		t.Fatalf("session must be evicted once the save lands")
	}
}

func TestFinish_NilNotifierTolerated(t *testing.T) {
	results := &recordingResults{}
	f, reg := newFinisher(results, &recordingNotifier{})
	f.Notify = nil

	sess := call.NewSession("call-4", "bridge")
	_ = reg.Insert(sess)
	_ = sess.Transition(call.StateBusy)

	f.Finish(context.Background(), sess, stubProvider{name: "bridge"})
	if len(results.saved) != 1 {
		t.Fatalf("finish must persist without a notifier")
	}
}
