package bridge

import (
	"testing"

	"voiceagent-platform/internal/ari"
	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/livekv"
	"voiceagent-platform/internal/provider"
)

func TestApplySetup_PayloadFieldsOverrideLocalConfig(t *testing.T) {
	r := &relay{
		sess:  call.NewSession("c1", provider.KindBridge),
		model: "gpt-realtime",
		agent: provider.AgentConfig{
			Voice:        "alloy",
			SystemPrompt: "local prompt",
			Greeting:     "local greeting",
			Temperature:  0.7,
		},
	}

	r.applySetup(livekv.SetupPayload{
		CallID:       "c1",
		Model:        "gpt-4o-realtime-preview",
		Voice:        "verse",
		SystemPrompt: "initiator prompt",
		Greeting:     "initiator greeting",
		Temperature:  0.4,
	})

	if r.model != "gpt-4o-realtime-preview" {
		t.Fatalf("model = %q, want the payload's model", r.model)
	}
	if r.agent.Voice != "verse" || r.agent.SystemPrompt != "initiator prompt" {
		t.Fatalf("agent config not overlaid: %+v", r.agent)
	}
	if r.agent.Greeting != "initiator greeting" || r.agent.Temperature != 0.4 {
		t.Fatalf("agent config not overlaid: %+v", r.agent)
	}
}

func TestApplySetup_EmptyPayloadFieldsKeepLocalConfig(t *testing.T) {
	r := &relay{
		sess:  call.NewSession("c1", provider.KindBridge),
		model: "gpt-realtime",
		agent: provider.AgentConfig{
			Voice:        "alloy",
			SystemPrompt: "local prompt",
			Temperature:  0.7,
		},
	}

	r.applySetup(livekv.SetupPayload{CallID: "c1"})

	if r.model != "gpt-realtime" || r.agent.Voice != "alloy" {
		t.Fatalf("empty payload must not clear local config: model=%q agent=%+v", r.model, r.agent)
	}
	if r.agent.SystemPrompt != "local prompt" || r.agent.Temperature != 0.7 {
		t.Fatalf("empty payload must not clear local config: %+v", r.agent)
	}
}

func TestOutcomeForCause(t *testing.T) {
	cases := []struct {
		cause int
		want  call.State
	}{
		{ari.CauseUserBusy, call.StateBusy},
		{ari.CauseNoAnswer, call.StateNoAnswer},
		{ari.CauseNormalClearing, call.StateNoAnswer},
		{0, call.StateNoAnswer},
		{34, call.StateFailed},
	}
	for _, tc := range cases {
		if got := outcomeForCause(tc.cause); got != tc.want {
			t.Errorf("outcomeForCause(%d) = %q, want %q", tc.cause, got, tc.want)
		}
	}
}
