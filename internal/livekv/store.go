package livekv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the ephemeral key-value/pub-sub edge between call processes:
// per-call setup payloads from the initiator to the relay, a cross-process
// hangup signal, and a live transcript buffer for external polling.
//
// Everything here is TTL-bounded. Absence of an entry is a degraded-feature
// signal, never an error: callers get (zero, false, nil).
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: 4 * time.Hour}
}

func setupKey(callID string) string      { return "call:setup:" + callID }
func hangupChannel(callID string) string { return "call:hangup:" + callID }
func transcriptKey(callID string) string { return "call:transcript:" + callID }

/* ===================== setup payloads ===================== */

// SetupPayload carries per-call context from the initiator to the relay
// process on the bridge path.
type SetupPayload struct {
	CallID       string  `json:"call_id"`
	AgentID      string  `json:"agent_id"`
	CampaignID   string  `json:"campaign_id,omitempty"`
	To           string  `json:"to"`
	CallerID     string  `json:"caller_id"`
	CustomerName string  `json:"customer_name,omitempty"`
	Model        string  `json:"model"`
	Voice        string  `json:"voice"`
	SystemPrompt string  `json:"system_prompt"`
	Greeting     string  `json:"greeting,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

func (s *Store) PutSetup(ctx context.Context, p SetupPayload) error {
	if p.CallID == "" {
		return errors.New("livekv: setup payload requires call_id")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, setupKey(p.CallID), b, s.ttl).Err()
}

// GetSetup returns (payload, true) when present. A missing entry is not an
// error; the relay falls back to the agent config it already holds.
func (s *Store) GetSetup(ctx context.Context, callID string) (SetupPayload, bool, error) {
	b, err := s.rdb.Get(ctx, setupKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SetupPayload{}, false, nil
	}
	if err != nil {
		return SetupPayload{}, false, err
	}
	var p SetupPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return SetupPayload{}, false, fmt.Errorf("livekv: corrupt setup payload: %w", err)
	}
	return p, true, nil
}

func (s *Store) DeleteSetup(ctx context.Context, callID string) error {
	return s.rdb.Del(ctx, setupKey(callID)).Err()
}

/* ===================== hangup signal ===================== */

// PublishHangup signals the relay loop (wherever it runs) to sign off and
// hang up. Publishing with no subscriber is not an error; the direct
// transport termination covers that case.
func (s *Store) PublishHangup(ctx context.Context, callID, reason string) error {
	return s.rdb.Publish(ctx, hangupChannel(callID), reason).Err()
}

// SubscribeHangup delivers at most one hangup signal for the call, then
// closes. The subscription ends when ctx does.
func (s *Store) SubscribeHangup(ctx context.Context, callID string) <-chan string {
	out := make(chan string, 1)
	sub := s.rdb.Subscribe(ctx, hangupChannel(callID))
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		select {
		case <-ctx.Done():
		case msg, ok := <-ch:
			if ok {
				out <- msg.Payload
			}
		}
	}()
	return out
}

/* ===================== live transcript buffer ===================== */

// TranscriptFragment is one buffered utterance for external polling.
type TranscriptFragment struct {
	Role string `json:"role"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// AppendTranscript buffers a fragment with a bounded TTL. Failures are
// returned but callers treat them as a degraded feature, never fatal to the
// call.
func (s *Store) AppendTranscript(ctx context.Context, callID string, frag TranscriptFragment) error {
	b, err := json.Marshal(frag)
	if err != nil {
		return err
	}
	key := transcriptKey(callID)
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, b)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// ReadTranscript returns all buffered fragments; empty (not an error) when
// the buffer expired or never existed.
func (s *Store) ReadTranscript(ctx context.Context, callID string) ([]TranscriptFragment, error) {
	rows, err := s.rdb.LRange(ctx, transcriptKey(callID), 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]TranscriptFragment, 0, len(rows))
	for _, r := range rows {
		var f TranscriptFragment
		if err := json.Unmarshal([]byte(r), &f); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
