package provider

import (
	"context"

	"voiceagent-platform/internal/call"
)

// Transferrer is implemented by adapters that support a warm transfer of the
// caller to another number.
type Transferrer interface {
	Transfer(ctx context.Context, callID, toNumber string) error
}

// Control adapts the router and registry to mid-call control requests coming
// out of tool handlers (end_call, transfer_call). It satisfies the tools
// package's CallControl edge.
type Control struct {
	Registry *call.Registry
	Router   *Router
}

func (c Control) RequestHangup(ctx context.Context, callID string) error {
	sess, ok := c.Registry.Get(callID)
	if !ok {
		return nil
	}
	p, ok := c.Router.ByName(sess.Provider)
	if !ok {
		return Permanentf("no provider %q for call %s", sess.Provider, callID)
	}
	res, err := p.EndCall(ctx, callID)
	if err != nil && !res.Ended() {
		return err
	}
	return nil
}

func (c Control) RequestTransfer(ctx context.Context, callID, toNumber string) error {
	if toNumber == "" {
		return Permanentf("no transfer destination for call %s", callID)
	}
	sess, ok := c.Registry.Get(callID)
	if !ok {
		return Permanentf("no live call %s", callID)
	}
	p, ok := c.Router.ByName(sess.Provider)
	if !ok {
		return Permanentf("no provider %q for call %s", sess.Provider, callID)
	}
	t, ok := p.(Transferrer)
	if !ok {
		return Permanentf("provider %q cannot transfer calls", sess.Provider)
	}
	return t.Transfer(ctx, callID, toNumber)
}
