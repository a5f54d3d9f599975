package call

import (
	"errors"
	"testing"
	"time"
)

func TestTransition_HappyPath(t *testing.T) {
	s := NewSession("c1", "bridge")

	for _, next := range []State{StateRinging, StateConnected, StateTalking, StateOnHold, StateTalking} {
		if err := s.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if s.State() != StateTalking {
		t.Fatalf("expected talking, got %s", s.State())
	}
	if s.ConnectedAt == nil {
		t.Fatalf("ConnectedAt not set on connect")
	}
	if s.Outcome() != "" {
		t.Fatalf("live session must have empty outcome")
	}
}

func TestTransition_InvalidEdge(t *testing.T) {
	s := NewSession("c1", "bridge")

	err := s.Transition(StateTalking)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if s.State() != StateQueued {
		t.Fatalf("failed transition must not change state, got %s", s.State())
	}
}

func TestTransition_TerminalWinsOnce(t *testing.T) {
	s := NewSession("c1", "bridge")
	_ = s.Transition(StateRinging)
	_ = s.Transition(StateConnected)

	if err := s.Transition(StateCompleted); err != nil {
		t.Fatalf("first terminal transition: %v", err)
	}
	if err := s.Transition(StateFailed); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second terminal transition must return ErrAlreadyTerminal, got %v", err)
	}
	if s.Outcome() != StateCompleted {
		t.Fatalf("outcome overwritten: %s", s.Outcome())
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("Done not closed after terminal transition")
	}
}

func TestTransition_TerminalFromAnyState(t *testing.T) {
	for _, terminal := range []State{StateTransferred, StateCompleted, StateFailed, StateNoAnswer, StateBusy} {
		s := NewSession("c1", "bridge")
		if err := s.Transition(terminal); err != nil {
			t.Fatalf("queued -> %s: %v", terminal, err)
		}
		if s.EndedAt == nil {
			t.Fatalf("EndedAt not set for %s", terminal)
		}
	}
}

func TestFail_RecordsReasonOnce(t *testing.T) {
	s := NewSession("c1", "bridge")
	s.Fail(errors.New("first"))
	s.Fail(errors.New("second"))

	if s.Outcome() != StateFailed {
		t.Fatalf("expected failed, got %s", s.Outcome())
	}
	if s.FailReason() != "first" {
		t.Fatalf("fail reason overwritten: %q", s.FailReason())
	}
}

func TestAppendTranscript_DroppedAfterTerminal(t *testing.T) {
	s := NewSession("c1", "bridge")
	s.AppendTranscript("user", "hello")
	s.AppendTranscript("assistant", "hi there")
	_ = s.Transition(StateCompleted)
	s.AppendTranscript("assistant", "late")

	tr := s.Transcript()
	if len(tr) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tr))
	}
	if tr[0].Role != "user" || tr[1].Role != "assistant" {
		t.Fatalf("arrival order lost: %+v", tr)
	}
}

func TestDurationSeconds_NeverConnected(t *testing.T) {
	s := NewSession("c1", "sipai")
	_ = s.Transition(StateRinging)
	_ = s.Transition(StateNoAnswer)

	if d := s.DurationSeconds(); d != 0 {
		t.Fatalf("never-connected call must bill zero seconds, got %d", d)
	}
}

func TestDurationSeconds_ConnectedWindow(t *testing.T) {
	s := NewSession("c1", "bridge")
	_ = s.Transition(StateRinging)
	_ = s.Transition(StateConnected)

	past := time.Now().UTC().Add(-37 * time.Second)
	s.ConnectedAt = &past
	_ = s.Transition(StateCompleted)

	d := s.DurationSeconds()
	if d < 36 || d > 38 {
		t.Fatalf("expected ~37s, got %d", d)
	}
}

func TestUsage_Accumulates(t *testing.T) {
	s := NewSession("c1", "bridge")
	s.AddUsage(Usage{Model: "gpt-realtime", InputTokens: 100, OutputTokens: 50})
	s.AddUsage(Usage{InputTokens: 20, OutputTokens: 5, CachedTokens: 10})

	u := s.Usage()
	if u.Model != "gpt-realtime" {
		t.Fatalf("model lost: %q", u.Model)
	}
	if u.InputTokens != 120 || u.OutputTokens != 55 || u.CachedTokens != 10 {
		t.Fatalf("unexpected accumulation: %+v", u)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := NewSession("c1", "bridge")
	s.AppendTranscript("user", "hello")
	snap := s.Snapshot()
	snap.Transcript[0].Text = "mutated"

	if s.Transcript()[0].Text != "hello" {
		t.Fatalf("snapshot aliases session transcript")
	}
}

func TestFail_LosesToOtherTerminalCleanly(t *testing.T) {
	s := NewSession("c1", "bridge")
	if err := s.Transition(StateCompleted); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	s.Fail(errors.New("late failure"))

	if s.Outcome() != StateCompleted {
		t.Fatalf("outcome overwritten: %s", s.Outcome())
	}
	if s.FailReason() != "" {
		t.Fatalf("fail reason recorded on a completed session: %q", s.FailReason())
	}
}

func TestFail_RacingTerminalNeverMixesOutcomeAndReason(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := NewSession("c1", "bridge")
		done := make(chan struct{}, 2)
		go func() {
			_ = s.Transition(StateCompleted)
			done <- struct{}{}
		}()
		go func() {
			s.Fail(errors.New("relay error"))
			done <- struct{}{}
		}()
		<-done
		<-done

		switch s.Outcome() {
		case StateCompleted:
			if s.FailReason() != "" {
				t.Fatalf("completed session carries fail reason %q", s.FailReason())
			}
		case StateFailed:
			if s.FailReason() == "" {
				t.Fatalf("failed session lost its fail reason")
			}
		default:
			t.Fatalf("unexpected outcome %s", s.Outcome())
		}
	}
}
