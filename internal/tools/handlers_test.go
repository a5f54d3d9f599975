package tools

import (
	"context"
	"testing"
)

type fakeBackend struct {
	leads    []Lead
	dncCalls int
}

func (b *fakeBackend) SaveLead(_ context.Context, lead Lead) error {
	b.leads = append(b.leads, lead)
	return nil
}
func (b *fakeBackend) SaveAppointment(context.Context, Appointment) error       { return nil }
func (b *fakeBackend) SavePaymentPromise(context.Context, PaymentPromise) error { return nil }
func (b *fakeBackend) SaveSurveyAnswer(context.Context, SurveyAnswer) error     { return nil }
func (b *fakeBackend) AddDoNotCall(context.Context, string, string) error {
	b.dncCalls++
	return nil
}
func (b *fakeBackend) SendSMS(context.Context, string, string) error { return nil }

type fakeControl struct {
	hangups    []string
	transferTo []string
}

func (c *fakeControl) RequestHangup(_ context.Context, callID string) error {
	c.hangups = append(c.hangups, callID)
	return nil
}

func (c *fakeControl) RequestTransfer(_ context.Context, _ string, toNumber string) error {
	c.transferTo = append(c.transferTo, toNumber)
	return nil
}

func builtins(t *testing.T) (*Dispatcher, *fakeBackend, *fakeControl) {
	t.Helper()
	d := NewDispatcher(testLogger())
	backend := &fakeBackend{}
	control := &fakeControl{}
	RegisterBuiltins(d, backend, control)
	return d, backend, control
}

func TestTransferCall_ExplicitNumberWins(t *testing.T) {
	d, _, control := builtins(t)

	res := d.Dispatch(context.Background(), Invocation{
		Call: CallRef{CallID: "c1", TransferNumber: "+15550001111"},
		Name: "transfer_call",
		Args: map[string]any{"number": "+15559998888"},
	})
	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success (%s)", res.Status, res.Message)
	}
	if len(control.transferTo) != 1 || control.transferTo[0] != "+15559998888" {
		t.Fatalf("transfer destinations = %v, want the explicit number", control.transferTo)
	}
}

func TestTransferCall_FallsBackToConfiguredNumber(t *testing.T) {
	d, _, control := builtins(t)

	res := d.Dispatch(context.Background(), Invocation{
		Call: CallRef{CallID: "c1", TransferNumber: "+15550001111"},
		Name: "transfer_call",
		Args: map[string]any{},
	})
	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success (%s)", res.Status, res.Message)
	}
	if len(control.transferTo) != 1 || control.transferTo[0] != "+15550001111" {
		t.Fatalf("transfer destinations = %v, want the configured fallback", control.transferTo)
	}
}

func TestTransferCall_NoDestinationAnywhere(t *testing.T) {
	d, _, control := builtins(t)

	res := d.Dispatch(context.Background(), Invocation{
		Call: CallRef{CallID: "c1"},
		Name: "transfer_call",
		Args: map[string]any{},
	})
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error when no destination exists", res.Status)
	}
	if res.Message == "" {
		t.Fatalf("error result needs a speakable message")
	}
	if len(control.transferTo) != 0 {
		t.Fatalf("transfer requested with no destination: %v", control.transferTo)
	}
}

func TestEndCall_RequestsHangupForOwningCall(t *testing.T) {
	d, _, control := builtins(t)

	res := d.Dispatch(context.Background(), Invocation{
		Call: CallRef{CallID: "c9"},
		Name: "end_call",
	})
	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success (%s)", res.Status, res.Message)
	}
	if len(control.hangups) != 1 || control.hangups[0] != "c9" {
		t.Fatalf("hangups = %v, want [c9]", control.hangups)
	}
}

func TestCaptureLead_MissingNameRejected(t *testing.T) {
	d, backend, _ := builtins(t)

	res := d.Dispatch(context.Background(), Invocation{
		Call: CallRef{CallID: "c1"},
		Name: "capture_lead",
		Args: map[string]any{"phone": "+15551234567"},
	})
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error for missing name", res.Status)
	}
	if len(backend.leads) != 0 {
		t.Fatalf("lead saved despite validation failure: %v", backend.leads)
	}
}
