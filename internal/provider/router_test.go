package provider

import (
	"context"
	"testing"

	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/call"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Initiate(context.Context, InitiateRequest) (InitiateResult, error) {
	return InitiateResult{}, nil
}
func (s stubProvider) EndCall(context.Context, string) (EndResult, error) {
	return EndResult{}, nil
}
func (s stubProvider) GetTranscript(context.Context, string) ([]call.TranscriptEntry, error) {
	return nil, nil
}
func (s stubProvider) GetRecordingURL(context.Context, string) (string, error) { return "", nil }
func (s stubProvider) CalculateCost(call.Usage) billing.Cost                   { return billing.Cost{} }

func TestRoute(t *testing.T) {
	r := NewRouter(stubProvider{name: "bridge"}, stubProvider{name: "sipai"})

	p, err := r.Route(AgentConfig{ID: "a1", Provider: "sipai"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if p.Name() != "sipai" {
		t.Fatalf("routed to %q, want sipai", p.Name())
	}
}

func TestRoute_UnknownKindIsPermanent(t *testing.T) {
	r := NewRouter(stubProvider{name: "bridge"})

	_, err := r.Route(AgentConfig{ID: "a1", Provider: "smoke-signal"})
	if err == nil {
		t.Fatalf("unknown provider kind must error")
	}
	if Classify(err) != ClassPermanent {
		t.Fatalf("unknown kind is a configuration error, got %s", Classify(err))
	}
}

func TestByName(t *testing.T) {
	r := NewRouter(stubProvider{name: "pipeline"})

	if _, ok := r.ByName("pipeline"); !ok {
		t.Fatalf("ByName missed a registered provider")
	}
	if _, ok := r.ByName("bridge"); ok {
		t.Fatalf("ByName returned an unregistered provider")
	}
}

func TestEndResult_Ended(t *testing.T) {
	cases := []struct {
		res  EndResult
		want bool
	}{
		{EndResult{}, false},
		{EndResult{Signaled: true}, true},
		{EndResult{Terminated: true}, true},
		{EndResult{AlreadyEnded: true}, true},
	}
	for _, tc := range cases {
		if got := tc.res.Ended(); got != tc.want {
			t.Fatalf("%+v Ended() = %v, want %v", tc.res, got, tc.want)
		}
	}
}
