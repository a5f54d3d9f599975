package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one realtime AI session.
//
// Concurrency rules:
// - All writes are serialized through writeMu (one-writer WebSocket rule).
// - Events() is fed by a single read pump and closes when the session ends.
// - Close is idempotent and unblocks the read pump.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	events  chan ServerEvent

	closeOnce sync.Once
	readErr   error
}

type Config struct {
	URL    string
	APIKey string
	Model  string
}

// Dial opens a realtime session for the given model.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+cfg.APIKey)
	h.Set("OpenAI-Beta", "realtime=v1")

	u := cfg.URL
	if cfg.Model != "" {
		u = fmt.Sprintf("%s?model=%s", cfg.URL, cfg.Model)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	c := &Conn{ws: ws, events: make(chan ServerEvent, 128)}
	go c.readPump()
	return c, nil
}

// Events delivers decoded server events in arrival order. The channel closes
// when the session ends; Err reports why.
func (c *Conn) Events() <-chan ServerEvent { return c.events }

// Err returns the read-pump terminating error after Events closes.
func (c *Conn) Err() error { return c.readErr }

func (c *Conn) readPump() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		var ev ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed frames are skipped, not fatal.
			continue
		}
		ev.Raw = data
		c.events <- ev
	}
}

func (c *Conn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

// UpdateSession sends the one-time session configuration.
func (c *Conn) UpdateSession(cfg SessionConfig) error {
	return c.send(map[string]any{
		"type":    EventSessionUpdate,
		"session": cfg,
	})
}

// AppendAudio forwards one inbound telephony frame to the session.
func (c *Conn) AppendAudio(frame []byte) error {
	return c.send(map[string]any{
		"type":  EventAudioAppend,
		"audio": base64.StdEncoding.EncodeToString(frame),
	})
}

// SendToolOutput returns a tool result into the conversation, then asks the
// model to continue responding.
func (c *Conn) SendToolOutput(callID, output string) error {
	if err := c.send(map[string]any{
		"type": EventItemCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}); err != nil {
		return err
	}
	return c.send(map[string]any{"type": EventResponseCreate})
}

// RequestResponse asks the model to speak, optionally with one-off
// instructions (used for the graceful sign-off before hangup).
func (c *Conn) RequestResponse(instructions string) error {
	msg := map[string]any{"type": EventResponseCreate}
	if instructions != "" {
		msg["response"] = map[string]any{"instructions": instructions}
	}
	return c.send(msg)
}

// CancelResponse stops the in-flight response (caller barge-in).
func (c *Conn) CancelResponse() error {
	return c.send(map[string]any{"type": EventResponseCancel})
}

// Close is idempotent; it ends the read pump and closes Events.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

// DecodeAudioDelta decodes the base64 payload of a response.audio.delta.
func DecodeAudioDelta(ev ServerEvent) ([]byte, error) {
	return base64.StdEncoding.DecodeString(ev.Delta)
}
