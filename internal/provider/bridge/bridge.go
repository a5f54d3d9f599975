package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voiceagent-platform/internal/ari"
	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/livekv"
	"voiceagent-platform/internal/provider"
	"voiceagent-platform/internal/tools"
	"voiceagent-platform/internal/webhook"
)

// Provider is the telephony-bridge/Realtime path: it owns a per-call duplex
// relay between a telephony channel's audio stream and a realtime AI
// WebSocket session.
type Provider struct {
	cfg        Config
	ariClient  *ari.Client
	media      *ari.MediaHub
	registry   *call.Registry
	dispatcher *tools.Dispatcher
	kv         *livekv.Store
	finisher   *provider.Finisher
	log        *slog.Logger

	mu       sync.Mutex
	channels map[string]string // callID -> telephony channel ID
}

type Config struct {
	RealtimeURL    string
	RealtimeAPIKey string
	DefaultModel   string

	// TrunkEndpoint is the originate template, e.g. "PJSIP/{number}@outbound".
	TrunkEndpoint string
	// MediaBaseURL is where the telephony server dials back the per-call
	// media WebSocket.
	MediaBaseURL string
	// RecordingBaseURL prefixes stored-recording retrieval URLs.
	RecordingBaseURL string

	// OriginateTimeoutSeconds bounds ringing before the leg is abandoned.
	OriginateTimeoutSeconds int
}

// Realtime price cards, USD per million tokens.
var tokenRates = map[string]billing.TokenRates{
	"gpt-realtime": {
		TextInput: 4, TextOutput: 16, TextCached: 0.4,
		AudioInput: 32, AudioOutput: 64, AudioCached: 0.4,
	},
	"gpt-4o-realtime-preview": {
		TextInput: 5, TextOutput: 20, TextCached: 2.5,
		AudioInput: 40, AudioOutput: 80, AudioCached: 2.5,
	},
	"gpt-4o-mini-realtime-preview": {
		TextInput: 0.6, TextOutput: 2.4, TextCached: 0.3,
		AudioInput: 10, AudioOutput: 20, AudioCached: 0.3,
	},
}

func ratesFor(model string) billing.TokenRates {
	if r, ok := tokenRates[model]; ok {
		return r
	}
	return tokenRates["gpt-realtime"]
}

func New(
	cfg Config,
	ariClient *ari.Client,
	media *ari.MediaHub,
	registry *call.Registry,
	dispatcher *tools.Dispatcher,
	kv *livekv.Store,
	finisher *provider.Finisher,
	log *slog.Logger,
) *Provider {
	if cfg.OriginateTimeoutSeconds <= 0 {
		cfg.OriginateTimeoutSeconds = 45
	}
	return &Provider{
		cfg:        cfg,
		ariClient:  ariClient,
		media:      media,
		registry:   registry,
		dispatcher: dispatcher,
		kv:         kv,
		finisher:   finisher,
		log:        log,
		channels:   make(map[string]string),
	}
}

func (p *Provider) Name() string { return provider.KindBridge }

// Initiate originates the telephony leg and starts the relay supervisor.
// On any failure the session, the media expectation and the setup payload
// are all rolled back; no half-registered session survives.
func (p *Provider) Initiate(ctx context.Context, req provider.InitiateRequest) (provider.InitiateResult, error) {
	if req.CallID == "" || req.To == "" {
		return provider.InitiateResult{}, provider.Permanentf("bridge: call id and destination are required")
	}

	model := req.Agent.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	sess := call.NewSession(req.CallID, provider.KindBridge)
	sess.AgentID = req.Agent.ID
	sess.CampaignID = req.CampaignID
	sess.From = req.CallerID
	sess.To = req.To
	sess.CustomerName = req.CustomerName
	sess.TransferNumber = req.Agent.TransferNumber

	if err := p.registry.Insert(sess); err != nil {
		return provider.InitiateResult{}, provider.Permanent(err)
	}

	setup := livekv.SetupPayload{
		CallID:       req.CallID,
		AgentID:      req.Agent.ID,
		CampaignID:   req.CampaignID,
		To:           req.To,
		CallerID:     req.CallerID,
		CustomerName: req.CustomerName,
		Model:        model,
		Voice:        req.Agent.Voice,
		SystemPrompt: req.Agent.SystemPrompt,
		Greeting:     req.Agent.Greeting,
		Temperature:  req.Agent.Temperature,
	}
	if err := p.kv.PutSetup(ctx, setup); err != nil {
		// Degraded, not fatal: the relay falls back to the in-process agent
		// config it already holds.
		p.log.Warn("bridge: setup payload write failed", "call_id", req.CallID, "err", err)
	}

	p.media.Expect(req.CallID)

	ch, err := p.ariClient.OriginateChannel(ctx, ari.OriginateRequest{
		Endpoint: strings.ReplaceAll(p.cfg.TrunkEndpoint, "{number}", req.To),
		CallerID: req.CallerID,
		Timeout:  p.cfg.OriginateTimeoutSeconds,
		Variables: map[string]string{
			"CALL_ID":   req.CallID,
			"MEDIA_URL": ari.MediaURL(p.cfg.MediaBaseURL, req.CallID),
		},
	})
	if err != nil {
		p.media.Forget(req.CallID)
		p.registry.Remove(req.CallID)
		_ = p.kv.DeleteSetup(context.Background(), req.CallID)
		return provider.InitiateResult{}, fmt.Errorf("bridge: originate failed: %w", err)
	}

	p.mu.Lock()
	p.channels[req.CallID] = ch.ID
	p.mu.Unlock()

	_ = sess.Transition(call.StateRinging)
	p.log.Info("bridge: call originated", "call_id", req.CallID, "channel_id", ch.ID, "to", req.To)
	p.finisher.Announce(webhook.EventCallStarted, req.CallID, map[string]any{
		"provider":    provider.KindBridge,
		"campaign_id": req.CampaignID,
		"to":          req.To,
	})

	r := &relay{
		provider: p,
		sess:     sess,
		agent:    req.Agent,
		model:    model,
		channel:  ch.ID,
	}
	go r.run()

	return provider.InitiateResult{CallID: req.CallID, State: sess.State()}, nil
}

// EndCall runs both termination strategies: the redis hangup signal toward
// the relay (graceful sign-off) and a direct channel delete that works even
// if the relay is hung.
func (p *Provider) EndCall(ctx context.Context, callID string) (provider.EndResult, error) {
	res := provider.EndResult{}

	_, live := p.registry.Get(callID)
	p.mu.Lock()
	channelID := p.channels[callID]
	p.mu.Unlock()

	if !live && channelID == "" {
		res.AlreadyEnded = true
		return res, nil
	}

	if err := p.kv.PublishHangup(ctx, callID, "requested"); err == nil {
		res.Signaled = true
	} else {
		p.log.Warn("bridge: hangup signal failed", "call_id", callID, "err", err)
	}

	if channelID != "" {
		err := p.ariClient.HangupChannel(ctx, channelID, "normal")
		if err == nil || errors.Is(err, ari.ErrChannelNotFound) {
			res.Terminated = true
		} else {
			p.log.Warn("bridge: channel hangup failed", "call_id", callID, "channel_id", channelID, "err", err)
		}
	}

	if !res.Ended() {
		return res, provider.Transientf("bridge: both termination strategies failed for %s", callID)
	}
	return res, nil
}

// Transfer redirects the telephony leg to the agent's transfer target. The
// session settles as transferred; the relay observes the leg leaving the app
// and unwinds.
func (p *Provider) Transfer(ctx context.Context, callID, toNumber string) error {
	sess, ok := p.registry.Get(callID)
	if !ok {
		return provider.Permanentf("bridge: no live call %s", callID)
	}
	p.mu.Lock()
	channelID := p.channels[callID]
	p.mu.Unlock()
	if channelID == "" {
		return provider.Permanentf("bridge: no channel for call %s", callID)
	}
	endpoint := strings.ReplaceAll(p.cfg.TrunkEndpoint, "{number}", toNumber)
	if err := p.ariClient.RedirectChannel(ctx, channelID, endpoint); err != nil {
		return fmt.Errorf("bridge: transfer redirect: %w", err)
	}
	_ = sess.Transition(call.StateTransferred)
	return nil
}

// GetTranscript prefers the live session, falling back to the redis buffer
// for calls relayed by another process.
func (p *Provider) GetTranscript(ctx context.Context, callID string) ([]call.TranscriptEntry, error) {
	if sess, ok := p.registry.Get(callID); ok {
		return sess.Transcript(), nil
	}
	frags, err := p.kv.ReadTranscript(ctx, callID)
	if err != nil {
		return nil, err
	}
	out := make([]call.TranscriptEntry, 0, len(frags))
	for _, f := range frags {
		out = append(out, call.TranscriptEntry{Role: f.Role, Text: f.Text})
	}
	return out, nil
}

func (p *Provider) GetRecordingURL(ctx context.Context, callID string) (string, error) {
	if p.cfg.RecordingBaseURL == "" {
		return "", nil
	}
	return fmt.Sprintf("%s/recordings/%s.wav", strings.TrimRight(p.cfg.RecordingBaseURL, "/"), callID), nil
}

func (p *Provider) CalculateCost(u call.Usage) billing.Cost {
	return billing.TokenCost(provider.KindBridge, ratesFor(u.Model), billing.TokenUsage{
		Model:             u.Model,
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		CachedTokens:      u.CachedTokens,
		InputTextTokens:   u.InputTextTokens,
		InputAudioTokens:  u.InputAudioTokens,
		OutputTextTokens:  u.OutputTextTokens,
		OutputAudioTokens: u.OutputAudioTokens,
		CachedTextTokens:  u.CachedTextTokens,
		CachedAudioTokens: u.CachedAudioTokens,
	}, u.DurationSeconds)
}

func (p *Provider) forgetChannel(callID string) {
	p.mu.Lock()
	delete(p.channels, callID)
	p.mu.Unlock()
}
