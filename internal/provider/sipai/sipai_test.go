package sipai

import (
	"testing"

	"voiceagent-platform/internal/call"
)

func TestOutcomeForEndReason(t *testing.T) {
	cases := []struct {
		name   string
		reason string
		prior  call.State
		want   call.State
	}{
		{"busy", EndReasonBusy, call.StateRinging, call.StateBusy},
		{"no answer", EndReasonNoAnswer, call.StateRinging, call.StateNoAnswer},
		{"platform error", EndReasonError, call.StateTalking, call.StateFailed},
		{"hangup after talking", EndReasonHangup, call.StateTalking, call.StateCompleted},
		{"agent hangup after talking", EndReasonAgentHangup, call.StateTalking, call.StateCompleted},
		{"timeout mid-call", EndReasonTimeout, call.StateTalking, call.StateCompleted},
		{"hangup while ringing", EndReasonHangup, call.StateRinging, call.StateNoAnswer},
		{"timeout while queued", EndReasonTimeout, call.StateQueued, call.StateNoAnswer},
		{"unknown reason mid-call", "mystery", call.StateConnected, call.StateCompleted},
		{"unknown reason pre-answer", "mystery", call.StateRinging, call.StateNoAnswer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := outcomeForEndReason(tc.reason, tc.prior); got != tc.want {
				t.Fatalf("outcomeForEndReason(%q, %s) = %s, want %s", tc.reason, tc.prior, got, tc.want)
			}
		})
	}
}
