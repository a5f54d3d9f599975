package sipai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/provider"
	"voiceagent-platform/internal/tools"
	"voiceagent-platform/internal/webhook"
	"voiceagent-platform/pkg/logger"
)

// Provider is the native-SIP path: the AI platform owns the telephony leg and
// the AI session; this process only creates the call, polls its status and
// answers tool webhooks. Calls are tracked by the provider-native ID.
type Provider struct {
	cfg        Config
	client     *Client
	registry   *call.Registry
	dispatcher *tools.Dispatcher
	signer     *tools.TokenSigner
	finisher   *provider.Finisher
	log        *slog.Logger
}

type Config struct {
	TrunkURI string
	// DeciminuteRateUSD is the per-6-second billing unit price.
	DeciminuteRateUSD float64
	// ToolWebhookBaseURL prefixes the per-call tool endpoints handed to the
	// platform, e.g. "https://api.example.com".
	ToolWebhookBaseURL string
	// PollInterval is the status poll period while a call is live.
	PollInterval time.Duration
}

const deciminuteSeconds = 6

func New(
	cfg Config,
	client *Client,
	registry *call.Registry,
	dispatcher *tools.Dispatcher,
	signer *tools.TokenSigner,
	finisher *provider.Finisher,
	log *slog.Logger,
) *Provider {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Provider{
		cfg:        cfg,
		client:     client,
		registry:   registry,
		dispatcher: dispatcher,
		signer:     signer,
		finisher:   finisher,
		log:        log,
	}
}

func (p *Provider) Name() string { return provider.KindSipAI }

// Initiate creates the platform call with the agent's prompt, tool
// declarations and a per-call bearer token, then starts the status monitor.
func (p *Provider) Initiate(ctx context.Context, req provider.InitiateRequest) (provider.InitiateResult, error) {
	if req.CallID == "" || req.To == "" {
		return provider.InitiateResult{}, provider.Permanentf("sipai: call id and destination are required")
	}

	sess := call.NewSession(req.CallID, provider.KindSipAI)
	sess.AgentID = req.Agent.ID
	sess.CampaignID = req.CampaignID
	sess.From = req.CallerID
	sess.To = req.To
	sess.CustomerName = req.CustomerName
	sess.TransferNumber = req.Agent.TransferNumber

	if err := p.registry.Insert(sess); err != nil {
		return provider.InitiateResult{}, provider.Permanent(err)
	}

	token, err := p.signer.Mint(req.CallID, time.Now())
	if err != nil {
		p.registry.Remove(req.CallID)
		return provider.InitiateResult{}, fmt.Errorf("sipai: mint tool token: %w", err)
	}

	create := CreateCallRequest{
		SystemPrompt: p.instructions(req),
		Voice:        req.Agent.Voice,
		Greeting:     req.Agent.Greeting,
		Temperature:  req.Agent.Temperature,
		Medium: MediumSpec{SIP: SIPSpec{
			To:       req.To,
			From:     req.CallerID,
			TrunkURI: p.cfg.TrunkURI,
		}},
		Tools:     p.toolDecls(req.CallID, token, req.Agent.Tools),
		Recording: true,
		Metadata: map[string]string{
			"call_id":     req.CallID,
			"agent_id":    req.Agent.ID,
			"campaign_id": req.CampaignID,
		},
	}
	if req.Agent.MaxCallDuration > 0 {
		create.MaxDurationSeconds = int(req.Agent.MaxCallDuration.Seconds())
	}

	info, err := p.client.CreateCall(ctx, create)
	if err != nil {
		p.registry.Remove(req.CallID)
		return provider.InitiateResult{}, fmt.Errorf("sipai: create call: %w", err)
	}

	sess.ProviderCallID = info.ID
	_ = sess.Transition(call.StateRinging)
	p.log.Info("sipai: call created", "call_id", req.CallID, "provider_call_id", info.ID, "to", req.To)
	p.finisher.Announce(webhook.EventCallStarted, req.CallID, map[string]any{
		"provider":    provider.KindSipAI,
		"campaign_id": req.CampaignID,
		"to":          req.To,
	})

	go p.monitor(sess)

	return provider.InitiateResult{
		CallID:         req.CallID,
		ProviderCallID: info.ID,
		State:          sess.State(),
	}, nil
}

// monitor polls platform status until the call ends, mirroring it onto the
// session, then runs the shared finish protocol.
func (p *Provider) monitor(sess *call.Session) {
	log := logger.WithCall(p.log, sess.CallID, provider.KindSipAI).With("provider_call_id", sess.ProviderCallID)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-sess.Done():
			// EndCall or a tool hangup settled the session first.
			p.settle(sess, log)
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		info, err := p.client.GetCall(ctx, sess.ProviderCallID)
		cancel()
		if err != nil {
			if errors.Is(err, ErrCallNotFound) {
				sess.Fail(fmt.Errorf("sipai: call disappeared: %w", err))
				p.settle(sess, log)
				return
			}
			misses++
			log.Warn("sipai: status poll failed", "attempt", misses, "err", err)
			if misses >= 10 {
				sess.Fail(fmt.Errorf("sipai: status unreachable: %w", err))
				p.settle(sess, log)
				return
			}
			continue
		}
		misses = 0

		switch info.Status {
		case CallStatusJoining, CallStatusActive:
			if sess.State() == call.StateRinging {
				_ = sess.Transition(call.StateConnected)
				_ = sess.Transition(call.StateTalking)
				p.finisher.Announce(webhook.EventCallConnected, sess.CallID, map[string]any{
					"provider": provider.KindSipAI,
				})
			}
		case CallStatusEnded:
			_ = sess.Transition(outcomeForEndReason(info.EndReason, sess.State()))
			p.settle(sess, log)
			return
		}
	}
}

// settle pulls the final transcript before finishing; the platform keeps it,
// this process only mirrors it into the result row.
func (p *Provider) settle(sess *call.Session, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if msgs, err := p.client.GetTranscript(ctx, sess.ProviderCallID); err == nil {
		for _, m := range msgs {
			sess.AppendTranscript(m.Role, m.Text)
		}
	} else {
		log.Warn("sipai: final transcript fetch failed", "err", err)
	}

	p.finisher.Finish(ctx, sess, p)
}

func outcomeForEndReason(reason string, prior call.State) call.State {
	switch reason {
	case EndReasonBusy:
		return call.StateBusy
	case EndReasonNoAnswer:
		return call.StateNoAnswer
	case EndReasonError:
		return call.StateFailed
	case EndReasonTimeout, EndReasonHangup, EndReasonAgentHangup:
		// A timeout or hangup before the call ever joined means nobody
		// answered.
		if prior == call.StateRinging || prior == call.StateQueued {
			return call.StateNoAnswer
		}
		return call.StateCompleted
	default:
		if prior == call.StateRinging || prior == call.StateQueued {
			return call.StateNoAnswer
		}
		return call.StateCompleted
	}
}

// EndCall inspects platform status and picks the termination strategy:
// not-yet-joined calls are deleted, active calls get the graceful hangup
// data message, ended calls are already done.
func (p *Provider) EndCall(ctx context.Context, callID string) (provider.EndResult, error) {
	res := provider.EndResult{}

	sess, ok := p.registry.Get(callID)
	if !ok {
		res.AlreadyEnded = true
		return res, nil
	}
	providerID := sess.ProviderCallID
	if providerID == "" {
		res.AlreadyEnded = true
		return res, nil
	}

	info, err := p.client.GetCall(ctx, providerID)
	if errors.Is(err, ErrCallNotFound) {
		res.AlreadyEnded = true
		_ = sess.Transition(call.StateCompleted)
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("sipai: end call status read: %w", err)
	}

	switch info.Status {
	case CallStatusEnded:
		res.AlreadyEnded = true
		return res, nil

	case CallStatusActive, CallStatusJoining:
		if err := p.client.SendHangup(ctx, providerID); err != nil {
			// Fall back to the hard delete; some platforms accept it on
			// active calls as a forced teardown.
			if derr := p.client.DeleteCall(ctx, providerID); derr != nil {
				return res, fmt.Errorf("sipai: hangup failed: %w", err)
			}
		}
		res.Signaled = true
		return res, nil

	default: // queued, ringing
		if err := p.client.DeleteCall(ctx, providerID); err != nil && !errors.Is(err, ErrCallNotFound) {
			return res, fmt.Errorf("sipai: cancel failed: %w", err)
		}
		// Settled here; the monitor wakes on Done and runs the finish
		// protocol.
		_ = sess.Transition(call.StateCompleted)
		res.Terminated = true
		return res, nil
	}
}

// Transfer asks the platform to bridge the caller onward and settles the
// session as transferred; the monitor wakes on Done and finishes.
func (p *Provider) Transfer(ctx context.Context, callID, toNumber string) error {
	sess, ok := p.registry.Get(callID)
	if !ok {
		return provider.Permanentf("sipai: no live call %s", callID)
	}
	if err := p.client.SendTransfer(ctx, sess.ProviderCallID, toNumber); err != nil {
		return fmt.Errorf("sipai: transfer: %w", err)
	}
	_ = sess.Transition(call.StateTransferred)
	return nil
}

// GetTranscript serves live sessions from the platform (the authoritative
// copy mid-call) and finished calls from whatever the session mirrored.
func (p *Provider) GetTranscript(ctx context.Context, callID string) ([]call.TranscriptEntry, error) {
	sess, ok := p.registry.Get(callID)
	if !ok {
		return nil, nil
	}
	msgs, err := p.client.GetTranscript(ctx, sess.ProviderCallID)
	if errors.Is(err, ErrCallNotFound) {
		return sess.Transcript(), nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]call.TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, call.TranscriptEntry{Role: m.Role, Text: m.Text})
	}
	return out, nil
}

func (p *Provider) GetRecordingURL(ctx context.Context, callID string) (string, error) {
	sess, ok := p.registry.Get(callID)
	if !ok {
		return "", nil
	}
	return p.client.GetRecordingURL(ctx, sess.ProviderCallID)
}

func (p *Provider) CalculateCost(u call.Usage) billing.Cost {
	return billing.TimeCost(provider.KindSipAI, u.DurationSeconds, deciminuteSeconds, p.cfg.DeciminuteRateUSD)
}

func (p *Provider) instructions(req provider.InitiateRequest) string {
	s := req.Agent.SystemPrompt
	if req.CustomerName != "" {
		s += "\n\nYou are speaking with " + req.CustomerName + "."
	}
	return s
}

// toolDecls maps the agent's enabled tools to platform HTTP tool
// declarations pointing back at this process's webhook, all sharing the
// per-call bearer token.
func (p *Provider) toolDecls(callID, token string, enabled []string) []ToolDecl {
	base := strings.TrimRight(p.cfg.ToolWebhookBaseURL, "/")
	specs := p.dispatcher.Specs(enabled)
	out := make([]ToolDecl, 0, len(specs))
	for _, s := range specs {
		out = append(out, ToolDecl{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
			URL:         fmt.Sprintf("%s/webhooks/sipai/tools/%s", base, callID),
			BearerToken: token,
		})
	}
	return out
}
