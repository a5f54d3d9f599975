package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voiceagent-platform/internal/ari"
	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/livekv"
	"voiceagent-platform/internal/provider"
	"voiceagent-platform/internal/realtime"
	"voiceagent-platform/internal/tools"
	"voiceagent-platform/internal/webhook"
	"voiceagent-platform/pkg/logger"
)

// relay owns one call end to end: the telephony leg, the realtime AI session
// and the duplex audio pump between them. It runs until the session is
// terminal, then hands off to the shared finisher.
//
// Goroutine layout: one inbound pump (telephony -> AI) and one event loop
// (AI -> telephony, plus control events). Tool dispatch runs inside the event
// loop, so no further AI output is forwarded until the tool result is sent;
// the inbound pump keeps caller audio flowing the whole time.
type relay struct {
	provider *Provider
	sess     *call.Session
	agent    provider.AgentConfig
	model    string
	channel  string
}

const signOffInstructions = "The call is ending now. Briefly thank the person for their time and say goodbye in one short sentence."

func (r *relay) run() {
	p := r.provider
	callID := r.sess.CallID
	log := logger.WithCall(p.log, callID, provider.KindBridge).With("channel_id", r.channel)

	ctx := context.Background()
	var cancel context.CancelFunc
	if r.agent.MaxCallDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.agent.MaxCallDuration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	events := p.ariClient.Subscribe(r.channel)
	defer p.ariClient.Unsubscribe(r.channel)
	hangup := p.kv.SubscribeHangup(ctx, callID)

	defer func() {
		p.forgetChannel(callID)
		_ = p.kv.DeleteSetup(context.Background(), callID)
		p.finisher.Finish(context.Background(), r.sess, p)
	}()

	if !r.waitAnswer(ctx, log, events, hangup) {
		return
	}
	p.finisher.Announce(webhook.EventCallConnected, callID, map[string]any{
		"provider": provider.KindBridge,
	})

	// The initiator's setup payload is authoritative for the AI session
	// parameters; absence means this process placed the call itself and the
	// local agent config already matches.
	if sp, ok, err := p.kv.GetSetup(ctx, callID); err != nil {
		log.Warn("setup payload read failed", "err", err)
	} else if ok {
		r.applySetup(sp)
	}

	rt, err := realtime.Dial(ctx, realtime.Config{
		URL:    p.cfg.RealtimeURL,
		APIKey: p.cfg.RealtimeAPIKey,
		Model:  r.model,
	})
	if err != nil {
		r.abort(log, fmt.Errorf("realtime dial: %w", err))
		return
	}
	defer rt.Close()

	if err := rt.UpdateSession(r.sessionConfig()); err != nil {
		r.abort(log, fmt.Errorf("session update: %w", err))
		return
	}

	media, err := p.media.WaitConn(ctx, callID)
	if err != nil {
		r.abort(log, fmt.Errorf("media connect: %w", err))
		return
	}
	defer media.Close()

	// Recording is best-effort; a failure degrades the feature, not the call.
	if err := p.ariClient.StartRecording(ctx, r.channel, callID); err != nil {
		log.Warn("recording start failed", "err", err)
	}

	_ = r.sess.Transition(call.StateTalking)
	log.Info("relay live", "model", r.model)

	if r.agent.Greeting != "" {
		_ = rt.RequestResponse("Open the call with this greeting: " + r.agent.Greeting)
	} else {
		_ = rt.RequestResponse("")
	}

	// Inbound pump: telephony audio into the AI session, never blocked by
	// anything the event loop does.
	inboundErr := make(chan error, 1)
	go func() {
		for {
			frame, err := media.ReadFrame()
			if err != nil {
				inboundErr <- err
				return
			}
			if err := rt.AppendAudio(frame); err != nil {
				inboundErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("call duration limit reached")
			r.signOff(rt, media, log)
			r.hangupChannel(log)
			_ = r.sess.Transition(call.StateCompleted)
			return

		case reason := <-hangup:
			log.Info("hangup signaled", "reason", reason)
			r.signOff(rt, media, log)
			r.hangupChannel(log)
			_ = r.sess.Transition(call.StateCompleted)
			return

		case ev, ok := <-events:
			if !ok {
				continue
			}
			if ev.Type == ari.EventChannelDestroyed || ev.Type == ari.EventStasisEnd {
				log.Info("caller hung up", "cause", ev.Cause)
				_ = r.sess.Transition(call.StateCompleted)
				return
			}

		case err := <-inboundErr:
			// The media socket drops when the channel goes down; this usually
			// races the ChannelDestroyed event and means the caller hung up.
			log.Info("media stream ended", "err", err)
			r.hangupChannel(log)
			_ = r.sess.Transition(call.StateCompleted)
			return

		case ev, ok := <-rt.Events():
			if !ok {
				r.abort(log, fmt.Errorf("realtime session lost: %w", rt.Err()))
				return
			}
			if err := r.handleAIEvent(ctx, rt, media, ev); err != nil {
				r.abort(log, err)
				return
			}
		}
	}
}

// waitAnswer consumes control events until the channel is up. Negative
// outcomes (busy, no answer, canceled) set the terminal state and return
// false.
func (r *relay) waitAnswer(ctx context.Context, log *slog.Logger, events <-chan ari.Event, hangup <-chan string) bool {
	for {
		select {
		case <-ctx.Done():
			r.abort(log, errors.New("timed out waiting for answer"))
			return false

		case reason := <-hangup:
			log.Info("call canceled before answer", "reason", reason)
			r.hangupChannel(log)
			_ = r.sess.Transition(call.StateCompleted)
			return false

		case ev, ok := <-events:
			if !ok {
				r.abort(log, errors.New("event stream closed before answer"))
				return false
			}
			switch ev.Type {
			case ari.EventStasisStart:
				_ = r.sess.Transition(call.StateConnected)
				return true
			case ari.EventChannelStateChange:
				if ev.Channel != nil && ev.Channel.State == ari.ChannelStateUp {
					_ = r.sess.Transition(call.StateConnected)
					return true
				}
			case ari.EventChannelDestroyed:
				outcome := outcomeForCause(ev.Cause)
				log.Info("call ended before answer", "cause", ev.Cause, "outcome", string(outcome))
				_ = r.sess.Transition(outcome)
				return false
			}
		}
	}
}

func outcomeForCause(cause int) call.State {
	switch cause {
	case ari.CauseUserBusy:
		return call.StateBusy
	case ari.CauseNoAnswer, ari.CauseNormalClearing, 0:
		return call.StateNoAnswer
	default:
		return call.StateFailed
	}
}

func (r *relay) handleAIEvent(ctx context.Context, rt *realtime.Conn, media *ari.MediaConn, ev realtime.ServerEvent) error {
	switch ev.Type {
	case realtime.EventAudioDelta:
		frame, err := realtime.DecodeAudioDelta(ev)
		if err != nil {
			return nil
		}
		if err := media.WriteFrame(frame); err != nil {
			return fmt.Errorf("media write: %w", err)
		}

	case realtime.EventSpeechStarted:
		// Caller barge-in: stop the in-flight response.
		_ = rt.CancelResponse()

	case realtime.EventAudioTranscript:
		r.record("assistant", ev.Delta)

	case realtime.EventInputTranscript:
		r.record("user", ev.Transcript)

	case realtime.EventFunctionCallDone:
		r.dispatchTool(ctx, rt, ev)

	case realtime.EventResponseDone:
		if ev.Response != nil && ev.Response.Usage != nil {
			r.sess.AddUsage(usageDelta(r.model, ev.Response.Usage))
		}

	case realtime.EventError:
		if ev.Error != nil && ev.Error.Code != "response_cancel_not_active" {
			return fmt.Errorf("realtime session error: %s", ev.Error.Message)
		}
	}
	return nil
}

// dispatchTool runs the tool and returns its result into the conversation.
// Dispatch never errors; every failure mode arrives as a status "error"
// result the model can recover from.
func (r *relay) dispatchTool(ctx context.Context, rt *realtime.Conn, ev realtime.ServerEvent) {
	var args map[string]any
	if ev.Arguments != "" {
		_ = json.Unmarshal([]byte(ev.Arguments), &args)
	}
	res := r.provider.dispatcher.Dispatch(ctx, tools.Invocation{
		Call: tools.CallRef{
			CallID:         r.sess.CallID,
			AgentID:        r.sess.AgentID,
			CampaignID:     r.sess.CampaignID,
			From:           r.sess.From,
			To:             r.sess.To,
			TransferNumber: r.sess.TransferNumber,
		},
		Name: ev.Name,
		Args: args,
	})
	out, _ := json.Marshal(res)
	_ = rt.SendToolOutput(ev.CallID, string(out))
}

func (r *relay) record(role, text string) {
	if text == "" {
		return
	}
	r.sess.AppendTranscript(role, text)
	// Redis buffer failures degrade external polling only.
	bctx, bcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer bcancel()
	_ = r.provider.kv.AppendTranscript(bctx, r.sess.CallID, livekv.TranscriptFragment{
		Role: role,
		Text: text,
		At:   time.Now().Unix(),
	})
}

// signOff asks the model for a short goodbye and forwards its audio for a
// bounded window before the leg is torn down.
func (r *relay) signOff(rt *realtime.Conn, media *ari.MediaConn, log *slog.Logger) {
	if err := rt.RequestResponse(signOffInstructions); err != nil {
		return
	}
	deadline := time.NewTimer(6 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case <-deadline.C:
			return
		case ev, ok := <-rt.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case realtime.EventAudioDelta:
				frame, err := realtime.DecodeAudioDelta(ev)
				if err == nil {
					if err := media.WriteFrame(frame); err != nil {
						return
					}
				}
			case realtime.EventAudioTranscript:
				r.record("assistant", ev.Delta)
			case realtime.EventResponseDone:
				if ev.Response != nil && ev.Response.Usage != nil {
					r.sess.AddUsage(usageDelta(r.model, ev.Response.Usage))
				}
				return
			}
		}
	}
}

// abort fails the session and tears the leg down. No retry happens here:
// mid-call relay failures are not retriable attempts.
func (r *relay) abort(log *slog.Logger, err error) {
	log.Error("relay failed", "err", err)
	r.sess.Fail(err)
	r.hangupChannel(log)
}

func (r *relay) hangupChannel(log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.provider.ariClient.HangupChannel(ctx, r.channel, "normal")
	if err != nil && !errors.Is(err, ari.ErrChannelNotFound) {
		log.Warn("channel hangup failed", "err", err)
	}
}

// applySetup overlays the initiator's setup payload onto the relay's local
// agent config. Non-zero payload fields win, so a relay running in a
// different process from the initiator still speaks with the exact
// configuration the call was placed with.
func (r *relay) applySetup(sp livekv.SetupPayload) {
	if sp.Model != "" {
		r.model = sp.Model
	}
	if sp.Voice != "" {
		r.agent.Voice = sp.Voice
	}
	if sp.SystemPrompt != "" {
		r.agent.SystemPrompt = sp.SystemPrompt
	}
	if sp.Greeting != "" {
		r.agent.Greeting = sp.Greeting
	}
	if sp.Temperature != 0 {
		r.agent.Temperature = sp.Temperature
	}
}

func (r *relay) sessionConfig() realtime.SessionConfig {
	instructions := r.agent.SystemPrompt
	if r.sess.CustomerName != "" {
		instructions += "\n\nYou are speaking with " + r.sess.CustomerName + "."
	}

	threshold := r.agent.VADThreshold
	if threshold == 0 {
		threshold = 0.5
	}
	silence := r.agent.SilenceDurationMs
	if silence == 0 {
		silence = 500
	}
	prefix := r.agent.PrefixPaddingMs
	if prefix == 0 {
		prefix = 300
	}

	specs := r.provider.dispatcher.Specs(r.agent.Tools)
	defs := make([]realtime.ToolDef, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, realtime.ToolDef{
			Type:        "function",
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
	}

	return realtime.SessionConfig{
		Modalities:              []string{"audio", "text"},
		Voice:                   r.agent.Voice,
		Instructions:            instructions,
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
		InputAudioTranscription: &realtime.TranscriptionConf{Model: "whisper-1"},
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         threshold,
			PrefixPaddingMs:   prefix,
			SilenceDurationMs: silence,
		},
		Tools:       defs,
		Temperature: r.agent.Temperature,
	}
}

// usageDelta converts one response.done usage block into the session's
// accumulator shape.
func usageDelta(model string, u *realtime.Usage) call.Usage {
	d := call.Usage{
		Model:        model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
	if in := u.InputTokenDetails; in != nil {
		d.CachedTokens = in.CachedTokens
		d.InputTextTokens = in.TextTokens
		d.InputAudioTokens = in.AudioTokens
		if c := in.CachedTokensDetails; c != nil {
			d.CachedTextTokens = c.TextTokens
			d.CachedAudioTokens = c.AudioTokens
		}
	}
	if out := u.OutputTokenDetails; out != nil {
		d.OutputTextTokens = out.TextTokens
		d.OutputAudioTokens = out.AudioTokens
	}
	return d
}
