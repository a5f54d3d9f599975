package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher maps tool names to side-effecting handlers invoked
// mid-conversation. The same registry serves both transports: in-process
// dispatch from the bridge relay loop and HTTP dispatch from the native-SIP
// provider's webhooks.
//
// Contract:
//   - Handlers never raise into the session loop. Every failure (unknown tool,
//     bad arguments, backend error, panic) becomes a status "error" result so
//     the conversation can continue.
//   - Irreversible actions require an explicit confirmed flag and return
//     pending-confirmation until the model supplies it.
type Dispatcher struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string]registration
}

type registration struct {
	spec    Spec
	handler Handler
}

// Handler executes one tool invocation. Returning an error is equivalent to a
// status "error" result; the dispatcher converts it.
type Handler func(ctx context.Context, inv Invocation) (Result, error)

// Invocation is one tool request from the AI side of a call.
type Invocation struct {
	Call CallRef
	Name string
	Args map[string]any
}

// CallRef identifies the call a tool runs inside without coupling the
// dispatcher to any transport.
type CallRef struct {
	CallID     string
	AgentID    string
	CampaignID string
	From       string
	To         string

	// TransferNumber is the agent's configured handoff destination, used
	// when a transfer request names no explicit number.
	TransferNumber string
}

type Status string

const (
	StatusSuccess             Status = "success"
	StatusPendingConfirmation Status = "pending-confirmation"
	StatusError               Status = "error"
)

// Result is consumed by the AI mid-conversation; Message must read well when
// spoken back to the model.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Spec is the declaration surfaced to the model as a callable tool.
type Spec struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the argument map.
	Parameters map[string]any
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{log: log, handlers: make(map[string]registration)}
}

// Register adds a handler. Re-registering a name replaces the handler.
func (d *Dispatcher) Register(spec Spec, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[spec.Name] = registration{spec: spec, handler: h}
}

// Specs lists registered tools, optionally filtered to names (an agent's
// enabled subset). Unknown names are skipped.
func (d *Dispatcher) Specs(names []string) []Spec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if names == nil {
		out := make([]Spec, 0, len(d.handlers))
		for _, r := range d.handlers {
			out = append(out, r.spec)
		}
		return out
	}
	out := make([]Spec, 0, len(names))
	for _, n := range names {
		if r, ok := d.handlers[n]; ok {
			out = append(out, r.spec)
		}
	}
	return out
}

// Dispatch runs one invocation. It never panics and never returns an
// unstructured failure.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("tool handler panicked", "tool", inv.Name, "call_id", inv.Call.CallID, "panic", p)
			res = Result{Status: StatusError, Message: fmt.Sprintf("the %s tool failed unexpectedly", inv.Name)}
		}
	}()

	d.mu.RLock()
	r, ok := d.handlers[inv.Name]
	d.mu.RUnlock()
	if !ok {
		d.log.Warn("unknown tool requested", "tool", inv.Name, "call_id", inv.Call.CallID)
		return Result{Status: StatusError, Message: fmt.Sprintf("no tool named %q is available", inv.Name)}
	}

	res, err := r.handler(ctx, inv)
	if err != nil {
		d.log.Error("tool handler failed", "tool", inv.Name, "call_id", inv.Call.CallID, "err", err)
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("the %s tool could not complete the request", inv.Name)
		}
		return Result{Status: StatusError, Message: msg}
	}
	if res.Status == "" {
		res.Status = StatusSuccess
	}
	d.log.Info("tool dispatched", "tool", inv.Name, "call_id", inv.Call.CallID, "status", res.Status)
	return res
}
