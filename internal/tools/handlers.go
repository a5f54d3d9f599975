package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Backend is the persistence collaborator edge for tool side effects. CRUD
// and schema ownership live outside this engine.
type Backend interface {
	SaveLead(ctx context.Context, lead Lead) error
	SaveAppointment(ctx context.Context, appt Appointment) error
	SavePaymentPromise(ctx context.Context, promise PaymentPromise) error
	SaveSurveyAnswer(ctx context.Context, ans SurveyAnswer) error
	AddDoNotCall(ctx context.Context, phone, reason string) error
	SendSMS(ctx context.Context, to, message string) error
}

// CallControl lets handlers act on the owning call without coupling to a
// provider adapter.
type CallControl interface {
	RequestHangup(ctx context.Context, callID string) error
	RequestTransfer(ctx context.Context, callID, toNumber string) error
}

type Lead struct {
	CallID     string    `json:"call_id"`
	CampaignID string    `json:"campaign_id,omitempty"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Email      string    `json:"email,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

type Appointment struct {
	CallID   string    `json:"call_id"`
	Phone    string    `json:"phone"`
	StartsAt time.Time `json:"starts_at"`
	Notes    string    `json:"notes,omitempty"`
}

type PaymentPromise struct {
	CallID    string    `json:"call_id"`
	Phone     string    `json:"phone"`
	AmountUSD float64   `json:"amount_usd"`
	DueDate   time.Time `json:"due_date"`
}

type SurveyAnswer struct {
	CallID   string `json:"call_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// RegisterBuiltins wires the standard handler set. Agents enable a subset via
// their tool list; the registry itself is shared.
func RegisterBuiltins(d *Dispatcher, backend Backend, control CallControl) {
	d.Register(Spec{
		Name:        "capture_lead",
		Description: "Save the caller's contact details as a sales lead.",
		Parameters: objectSchema(map[string]any{
			"name":  stringProp("Full name of the contact"),
			"email": stringProp("Email address, if provided"),
			"notes": stringProp("Free-form notes about the conversation"),
		}, "name"),
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		name, ok := argString(inv.Args, "name")
		if !ok {
			return missingArg("name")
		}
		lead := Lead{
			CallID:     inv.Call.CallID,
			CampaignID: inv.Call.CampaignID,
			Name:       name,
			Phone:      inv.Call.To,
			Email:      argStringOr(inv.Args, "email", ""),
			Notes:      argStringOr(inv.Args, "notes", ""),
			CapturedAt: time.Now().UTC(),
		}
		if err := backend.SaveLead(ctx, lead); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("Saved %s as a lead.", name)}, nil
	})

	d.Register(Spec{
		Name:        "schedule_appointment",
		Description: "Book an appointment. Requires confirmed=true after the caller has verbally agreed to the date and time.",
		Parameters: objectSchema(map[string]any{
			"datetime":  stringProp("Appointment start in RFC 3339, e.g. 2026-09-03T14:30:00Z"),
			"notes":     stringProp("What the appointment is about"),
			"confirmed": boolProp("Set true only after the caller confirmed the slot"),
		}, "datetime"),
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		raw, ok := argString(inv.Args, "datetime")
		if !ok {
			return missingArg("datetime")
		}
		startsAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Result{Status: StatusError, Message: "The appointment time must be in RFC 3339 format."}, nil
		}
		if !argBool(inv.Args, "confirmed") {
			return Result{
				Status:  StatusPendingConfirmation,
				Message: fmt.Sprintf("Please confirm with the caller: book the appointment for %s?", startsAt.Format("Monday, 2 January at 15:04 MST")),
			}, nil
		}
		appt := Appointment{
			CallID:   inv.Call.CallID,
			Phone:    inv.Call.To,
			StartsAt: startsAt,
			Notes:    argStringOr(inv.Args, "notes", ""),
		}
		if err := backend.SaveAppointment(ctx, appt); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "Appointment booked."}, nil
	})

	d.Register(Spec{
		Name:        "record_payment_promise",
		Description: "Record the caller's promise to pay. Requires confirmed=true after the caller verbally agreed to the amount and date.",
		Parameters: objectSchema(map[string]any{
			"amount_usd": numberProp("Promised amount in US dollars"),
			"due_date":   stringProp("Promised date in YYYY-MM-DD"),
			"confirmed":  boolProp("Set true only after the caller confirmed amount and date"),
		}, "amount_usd", "due_date"),
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		amount, ok := argFloat(inv.Args, "amount_usd")
		if !ok || amount <= 0 {
			return Result{Status: StatusError, Message: "A positive amount_usd is required."}, nil
		}
		raw, ok := argString(inv.Args, "due_date")
		if !ok {
			return missingArg("due_date")
		}
		due, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Result{Status: StatusError, Message: "due_date must be YYYY-MM-DD."}, nil
		}
		if !argBool(inv.Args, "confirmed") {
			return Result{
				Status:  StatusPendingConfirmation,
				Message: fmt.Sprintf("Please confirm with the caller: a payment of $%.2f by %s?", amount, due.Format("January 2")),
			}, nil
		}
		p := PaymentPromise{CallID: inv.Call.CallID, Phone: inv.Call.To, AmountUSD: amount, DueDate: due}
		if err := backend.SavePaymentPromise(ctx, p); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "Payment promise recorded."}, nil
	})

	d.Register(Spec{
		Name:        "send_followup_sms",
		Description: "Send the caller a follow-up text message after this topic is settled.",
		Parameters: objectSchema(map[string]any{
			"message": stringProp("Body of the text message"),
		}, "message"),
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		msg, ok := argString(inv.Args, "message")
		if !ok {
			return missingArg("message")
		}
		if err := backend.SendSMS(ctx, inv.Call.To, msg); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "Text message sent."}, nil
	})

	d.Register(Spec{
		Name:        "log_survey_answer",
		Description: "Record the caller's answer to a survey question.",
		Parameters: objectSchema(map[string]any{
			"question": stringProp("The question asked"),
			"answer":   stringProp("The caller's answer, verbatim where possible"),
		}, "question", "answer"),
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		q, ok := argString(inv.Args, "question")
		if !ok {
			return missingArg("question")
		}
		a, ok := argString(inv.Args, "answer")
		if !ok {
			return missingArg("answer")
		}
		if err := backend.SaveSurveyAnswer(ctx, SurveyAnswer{CallID: inv.Call.CallID, Question: q, Answer: a}); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "Answer recorded."}, nil
	})

	d.Register(Spec{
		Name:        "dnc_optout",
		Description: "Add the caller's number to the do-not-call list when they ask not to be contacted again.",
		Parameters: objectSchema(map[string]any{
			"reason": stringProp("Why the caller opted out, in their words"),
		}),
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		if err := backend.AddDoNotCall(ctx, inv.Call.To, argStringOr(inv.Args, "reason", "")); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "The number has been added to the do-not-call list."}, nil
	})

	d.Register(Spec{
		Name:        "end_call",
		Description: "Hang up after saying goodbye, when the conversation has reached its natural end.",
		Parameters: objectSchema(map[string]any{
			"reason": stringProp("Short reason for ending the call"),
		}),
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		if err := control.RequestHangup(ctx, inv.Call.CallID); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "The call will end now."}, nil
	})

	d.Register(Spec{
		Name:        "transfer_call",
		Description: "Transfer the caller to a human agent.",
		Parameters: objectSchema(map[string]any{
			"number": stringProp("Destination number; omit to use the agent's configured transfer number"),
		}),
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		to := argStringOr(inv.Args, "number", "")
		if to == "" {
			to = inv.Call.TransferNumber
		}
		if to == "" {
			return Result{Status: StatusError, Message: "No transfer destination is configured for this call."}, nil
		}
		if err := control.RequestTransfer(ctx, inv.Call.CallID, to); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "Transferring the call now."}, nil
	})
}

/* ===================== argument helpers ===================== */

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func argStringOr(args map[string]any, key, def string) string {
	if s, ok := argString(args, key); ok {
		return s
	}
	return def
}

func argBool(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true") || strings.EqualFold(b, "yes")
	default:
		return false
	}
}

func argFloat(args map[string]any, key string) (float64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func missingArg(name string) (Result, error) {
	return Result{Status: StatusError, Message: fmt.Sprintf("The %s argument is required.", name)}, nil
}

/* ===================== schema helpers ===================== */

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}
