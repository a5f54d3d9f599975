package pipeline

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

// Provider is the staged STT -> LLM -> TTS path over the shared telephony
// server. Strict turn taking: listen for one utterance, think, speak, repeat.
// Cheaper and slower than the realtime bridge; billed flat per minute.
type Provider struct {
	cfg        Config
	ariClient  *ari.Client
	media      *ari.MediaHub
	registry   *call.Registry
	dispatcher *tools.Dispatcher
	kv         *livekv.Store
	finisher   *provider.Finisher

	stt *Transcriber
	llm *ChatClient
	tts *Synthesizer
	log *slog.Logger

	mu       sync.Mutex
	channels map[string]string
}

type Config struct {
	TrunkEndpoint string
	MediaBaseURL  string

	// DefaultModel is the chat model when the agent names none.
	DefaultModel string

	// PerMinuteRateUSD is the flat pipeline price.
	PerMinuteRateUSD float64

	OriginateTimeoutSeconds int
}

func New(
	cfg Config,
	ariClient *ari.Client,
	media *ari.MediaHub,
	registry *call.Registry,
	dispatcher *tools.Dispatcher,
	kv *livekv.Store,
	finisher *provider.Finisher,
	stt *Transcriber,
	llm *ChatClient,
	tts *Synthesizer,
	log *slog.Logger,
) *Provider {
	if cfg.OriginateTimeoutSeconds <= 0 {
		cfg.OriginateTimeoutSeconds = 45
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	return &Provider{
		cfg:        cfg,
		ariClient:  ariClient,
		media:      media,
		registry:   registry,
		dispatcher: dispatcher,
		kv:         kv,
		finisher:   finisher,
		stt:        stt,
		llm:        llm,
		tts:        tts,
		log:        log,
		channels:   make(map[string]string),
	}
}

func (p *Provider) Name() string { return provider.KindPipeline }

func (p *Provider) Initiate(ctx context.Context, req provider.InitiateRequest) (provider.InitiateResult, error) {
	if req.CallID == "" || req.To == "" {
		return provider.InitiateResult{}, provider.Permanentf("pipeline: call id and destination are required")
	}

	sess := call.NewSession(req.CallID, provider.KindPipeline)
	sess.AgentID = req.Agent.ID
	sess.CampaignID = req.CampaignID
	sess.From = req.CallerID
	sess.To = req.To
	sess.CustomerName = req.CustomerName
	sess.TransferNumber = req.Agent.TransferNumber

	if err := p.registry.Insert(sess); err != nil {
		return provider.InitiateResult{}, provider.Permanent(err)
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
		return provider.InitiateResult{}, fmt.Errorf("pipeline: originate failed: %w", err)
	}

	p.mu.Lock()
	p.channels[req.CallID] = ch.ID
	p.mu.Unlock()

	_ = sess.Transition(call.StateRinging)
	p.log.Info("pipeline: call originated", "call_id", req.CallID, "channel_id", ch.ID, "to", req.To)
	p.finisher.Announce(webhook.EventCallStarted, req.CallID, map[string]any{
		"provider":    provider.KindPipeline,
		"campaign_id": req.CampaignID,
		"to":          req.To,
	})

	t := &turnLoop{
		provider: p,
		sess:     sess,
		agent:    req.Agent,
		channel:  ch.ID,
	}
	go t.run()

	return provider.InitiateResult{CallID: req.CallID, State: sess.State()}, nil
}

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
	}
	if channelID != "" {
		err := p.ariClient.HangupChannel(ctx, channelID, "normal")
		if err == nil || errors.Is(err, ari.ErrChannelNotFound) {
			res.Terminated = true
		}
	}
	if !res.Ended() {
		return res, provider.Transientf("pipeline: both termination strategies failed for %s", callID)
	}
	return res, nil
}

// Transfer redirects the telephony leg to another endpoint and settles the
// session as transferred.
func (p *Provider) Transfer(ctx context.Context, callID, toNumber string) error {
	sess, ok := p.registry.Get(callID)
	if !ok {
		return provider.Permanentf("pipeline: no live call %s", callID)
	}
	p.mu.Lock()
	channelID := p.channels[callID]
	p.mu.Unlock()
	if channelID == "" {
		return provider.Permanentf("pipeline: no channel for call %s", callID)
	}
	endpoint := strings.ReplaceAll(p.cfg.TrunkEndpoint, "{number}", toNumber)
	if err := p.ariClient.RedirectChannel(ctx, channelID, endpoint); err != nil {
		return fmt.Errorf("pipeline: transfer redirect: %w", err)
	}
	_ = sess.Transition(call.StateTransferred)
	return nil
}

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
	return "", nil
}

func (p *Provider) CalculateCost(u call.Usage) billing.Cost {
	return billing.PipelineCost(provider.KindPipeline, u.DurationSeconds, p.cfg.PerMinuteRateUSD)
}

func (p *Provider) forgetChannel(callID string) {
	p.mu.Lock()
	delete(p.channels, callID)
	p.mu.Unlock()
}
