package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Emitter is the client edge of the webhook delivery collaborator: it signs
// and posts call lifecycle events at-least-once. Durable retry/backoff beyond
// the short in-process attempts is owned by the receiving collaborator.
type Emitter struct {
	url    string
	secret []byte
	httpc  *http.Client
	log    *slog.Logger
}

// Event names delivered to the collaborator.
const (
	EventCallStarted   = "call.started"
	EventCallConnected = "call.connected"
	EventCallCompleted = "call.completed"
	EventCallFailed    = "call.failed"
)

type payload struct {
	Event      string    `json:"event"`
	CallID     string    `json:"call_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

const (
	headerSignature = "X-Voiceagent-Signature"
	headerTimestamp = "X-Voiceagent-Timestamp"
)

// NewEmitter returns a disabled emitter (all sends are no-ops) when url is
// empty.
func NewEmitter(url, secret string, log *slog.Logger) *Emitter {
	return &Emitter{
		url:    url,
		secret: []byte(secret),
		httpc:  &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Emit posts the event asynchronously. Call-path code never waits on webhook
// delivery.
func (e *Emitter) Emit(event, callID string, data any) {
	if e.url == "" {
		return
	}
	p := payload{Event: event, CallID: callID, OccurredAt: time.Now().UTC(), Data: data}
	go e.deliver(p)
}

func (e *Emitter) deliver(p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		e.log.Error("webhook marshal failed", "event", p.Event, "call_id", p.CallID, "err", err)
		return
	}

	backoff := time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		if e.post(body) {
			return
		}
		if attempt < 3 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	e.log.Error("webhook delivery exhausted retries", "event", p.Event, "call_id", p.CallID)
}

func (e *Emitter) post(body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts := time.Now().UTC().Format(time.RFC3339)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, Sign(e.secret, ts, body))

	resp, err := e.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Sign computes the hex HMAC-SHA256 over "{timestamp}.{body}" so receivers
// can reject replayed payloads.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature the way a receiver would; used in tests and by
// local tooling.
func Verify(secret []byte, timestamp string, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
