package pipeline

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
	"voiceagent-platform/internal/tools"
	"voiceagent-platform/internal/webhook"
	"voiceagent-platform/pkg/logger"
)

// turnLoop drives one pipeline call: wait for answer, then alternate between
// listening for an utterance, completing a chat turn (with tool calls) and
// speaking the reply.
type turnLoop struct {
	provider *Provider
	sess     *call.Session
	agent    provider.AgentConfig
	channel  string
}

// Endpointing knobs for the energy-based utterance detector.
const (
	speechEnergy    = 700 // mean abs amplitude that counts as speech
	silenceTailMs   = 700 // trailing quiet that ends an utterance
	maxUtteranceMs  = 15000
	maxSilentTurns  = 3 // consecutive empty turns before giving up
	maxToolHops     = 4 // chat->tool->chat iterations per turn
	frameDurationMs = 20
)

func (t *turnLoop) run() {
	p := t.provider
	callID := t.sess.CallID
	log := logger.WithCall(p.log, callID, provider.KindPipeline).With("channel_id", t.channel)

	ctx := context.Background()
	var cancel context.CancelFunc
	if t.agent.MaxCallDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.agent.MaxCallDuration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	events := p.ariClient.Subscribe(t.channel)
	defer p.ariClient.Unsubscribe(t.channel)
	hangup := p.kv.SubscribeHangup(ctx, callID)

	defer func() {
		p.forgetChannel(callID)
		p.finisher.Finish(context.Background(), t.sess, p)
	}()

	if !t.waitAnswer(ctx, log, events, hangup) {
		return
	}
	p.finisher.Announce(webhook.EventCallConnected, callID, map[string]any{
		"provider": provider.KindPipeline,
	})

	media, err := p.media.WaitConn(ctx, callID)
	if err != nil {
		t.abort(log, fmt.Errorf("media connect: %w", err))
		return
	}
	defer media.Close()
	// Tear the media socket down with the context so blocked reads unwind.
	go func() {
		<-ctx.Done()
		_ = media.Close()
	}()

	_ = t.sess.Transition(call.StateTalking)
	log.Info("turn loop live", "model", t.model())

	// Control watcher: any end signal cancels the loop so blocking stage
	// calls unwind promptly.
	endReason := make(chan string, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-hangup:
				select {
				case endReason <- "hangup:" + r:
				default:
				}
				cancel()
				return
			case ev, ok := <-events:
				if !ok {
					continue
				}
				if ev.Type == ari.EventChannelDestroyed || ev.Type == ari.EventStasisEnd {
					select {
					case endReason <- "caller hung up":
					default:
					}
					cancel()
					return
				}
			}
		}
	}()

	history := []ChatMessage{{Role: "system", Content: t.instructions()}}

	if t.agent.Greeting != "" {
		t.record("assistant", t.agent.Greeting)
		if err := t.speak(ctx, media, t.agent.Greeting); err != nil {
			t.finishOrFail(ctx, log, endReason, err)
			return
		}
		history = append(history, ChatMessage{Role: "assistant", Content: t.agent.Greeting})
	}

	silentTurns := 0
	for {
		if ctx.Err() != nil {
			t.finishOrFail(ctx, log, endReason, ctx.Err())
			return
		}

		utterance, err := t.listen(ctx, media)
		if err != nil {
			t.finishOrFail(ctx, log, endReason, err)
			return
		}

		text, err := p.stt.Transcribe(ctx, utterance)
		if err != nil {
			t.finishOrFail(ctx, log, endReason, fmt.Errorf("transcribe: %w", err))
			return
		}
		if text == "" {
			silentTurns++
			if silentTurns >= maxSilentTurns {
				log.Info("caller silent, ending call")
				t.hangupChannel(log)
				_ = t.sess.Transition(call.StateCompleted)
				return
			}
			continue
		}
		silentTurns = 0
		t.record("user", text)
		history = append(history, ChatMessage{Role: "user", Content: text})

		reply, newHistory, err := t.completeTurn(ctx, history)
		if err != nil {
			t.finishOrFail(ctx, log, endReason, err)
			return
		}
		history = newHistory

		if reply != "" {
			t.record("assistant", reply)
			if err := t.speak(ctx, media, reply); err != nil {
				t.finishOrFail(ctx, log, endReason, err)
				return
			}
		}
	}
}

func (t *turnLoop) waitAnswer(ctx context.Context, log *slog.Logger, events <-chan ari.Event, hangup <-chan string) bool {
	for {
		select {
		case <-ctx.Done():
			t.abort(log, errors.New("timed out waiting for answer"))
			return false
		case reason := <-hangup:
			log.Info("call canceled before answer", "reason", reason)
			t.hangupChannel(log)
			_ = t.sess.Transition(call.StateCompleted)
			return false
		case ev, ok := <-events:
			if !ok {
				t.abort(log, errors.New("event stream closed before answer"))
				return false
			}
			switch ev.Type {
			case ari.EventStasisStart:
				_ = t.sess.Transition(call.StateConnected)
				return true
			case ari.EventChannelStateChange:
				if ev.Channel != nil && ev.Channel.State == ari.ChannelStateUp {
					_ = t.sess.Transition(call.StateConnected)
					return true
				}
			case ari.EventChannelDestroyed:
				switch ev.Cause {
				case ari.CauseUserBusy:
					_ = t.sess.Transition(call.StateBusy)
				default:
					_ = t.sess.Transition(call.StateNoAnswer)
				}
				return false
			}
		}
	}
}

// listen collects one utterance: frames are discarded until speech starts,
// then buffered until the trailing silence window (or the utterance cap).
// Returns STT-ready WAV.
func (t *turnLoop) listen(ctx context.Context, media *ari.MediaConn) ([]byte, error) {
	var pcm []int16
	speaking := false
	silentMs := 0
	totalMs := 0

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		frame, err := media.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("media read: %w", err)
		}
		samples := ulawToPCM(frame)
		energy := meanAbs(samples)

		if !speaking {
			if energy < speechEnergy {
				continue
			}
			speaking = true
		}

		pcm = append(pcm, samples...)
		totalMs += frameDurationMs
		if energy < speechEnergy {
			silentMs += frameDurationMs
		} else {
			silentMs = 0
		}
		if silentMs >= silenceTailMs || totalMs >= maxUtteranceMs {
			return pcmToWAV(pcm), nil
		}
	}
}

// completeTurn runs the chat completion, resolving tool calls until the model
// produces a spoken reply (bounded by maxToolHops).
func (t *turnLoop) completeTurn(ctx context.Context, history []ChatMessage) (string, []ChatMessage, error) {
	chatTools := t.chatTools()
	for hop := 0; hop < maxToolHops; hop++ {
		msg, err := t.provider.llm.Complete(ctx, t.model(), history, chatTools, t.agent.Temperature)
		if err != nil {
			return "", history, fmt.Errorf("complete: %w", err)
		}
		history = append(history, msg)

		if len(msg.ToolCalls) == 0 {
			return msg.Content, history, nil
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if tc.Function.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			}
			res := t.provider.dispatcher.Dispatch(ctx, tools.Invocation{
				Call: tools.CallRef{
					CallID:         t.sess.CallID,
					AgentID:        t.sess.AgentID,
					CampaignID:     t.sess.CampaignID,
					From:           t.sess.From,
					To:             t.sess.To,
					TransferNumber: t.sess.TransferNumber,
				},
				Name: tc.Function.Name,
				Args: args,
			})
			out, _ := json.Marshal(res)
			history = append(history, ChatMessage{
				Role:       "tool",
				ToolCallID: tc.ID,
				Content:    string(out),
			})
		}
	}
	return "", history, provider.Permanentf("pipeline: tool hop limit exceeded")
}

// speak renders the reply and writes it to the leg in paced 20ms frames.
func (t *turnLoop) speak(ctx context.Context, media *ari.MediaConn, text string) error {
	pcm, err := t.provider.tts.Synthesize(ctx, text, t.agent.Voice)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	ulaw := ttsToUlaw(pcm)

	ticker := time.NewTicker(frameDurationMs * time.Millisecond)
	defer ticker.Stop()
	for off := 0; off < len(ulaw); off += frameBytes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		end := off + frameBytes
		if end > len(ulaw) {
			end = len(ulaw)
		}
		if err := media.WriteFrame(ulaw[off:end]); err != nil {
			return fmt.Errorf("media write: %w", err)
		}
	}
	return nil
}

func (t *turnLoop) chatTools() []ChatTool {
	specs := t.provider.dispatcher.Specs(t.agent.Tools)
	out := make([]ChatTool, 0, len(specs))
	for _, s := range specs {
		ct := ChatTool{Type: "function"}
		ct.Function.Name = s.Name
		ct.Function.Description = s.Description
		ct.Function.Parameters = s.Parameters
		out = append(out, ct)
	}
	return out
}

func (t *turnLoop) model() string {
	if t.agent.Model != "" {
		return t.agent.Model
	}
	return t.provider.cfg.DefaultModel
}

func (t *turnLoop) instructions() string {
	s := t.agent.SystemPrompt
	if t.sess.CustomerName != "" {
		s += "\n\nYou are speaking with " + t.sess.CustomerName + "."
	}
	return s
}

func (t *turnLoop) record(role, text string) {
	if text == "" {
		return
	}
	t.sess.AppendTranscript(role, text)
	bctx, bcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer bcancel()
	_ = t.provider.kv.AppendTranscript(bctx, t.sess.CallID, livekv.TranscriptFragment{
		Role: role,
		Text: text,
		At:   time.Now().Unix(),
	})
}

// finishOrFail separates requested/caller hangups (completed) from genuine
// stage failures.
func (t *turnLoop) finishOrFail(ctx context.Context, log *slog.Logger, endReason <-chan string, err error) {
	select {
	case reason := <-endReason:
		log.Info("call ended", "reason", reason)
		t.hangupChannel(log)
		_ = t.sess.Transition(call.StateCompleted)
	default:
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Info("call duration limit reached")
			t.hangupChannel(log)
			_ = t.sess.Transition(call.StateCompleted)
			return
		}
		t.abort(log, err)
	}
}

func (t *turnLoop) abort(log *slog.Logger, err error) {
	log.Error("turn loop failed", "err", err)
	t.sess.Fail(err)
	t.hangupChannel(log)
}

func (t *turnLoop) hangupChannel(log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.provider.ariClient.HangupChannel(ctx, t.channel, "normal")
	if err != nil && !errors.Is(err, ari.ErrChannelNotFound) {
		log.Warn("channel hangup failed", "err", err)
	}
}
