package ari

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MediaHub accepts the per-channel media WebSocket the telephony server dials
// back once a channel is up. Audio rides as binary frames, one frame per
// message, in arrival order.
type MediaHub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	waiters map[string]chan *MediaConn
}

func NewMediaHub(log *slog.Logger) *MediaHub {
	return &MediaHub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		waiters: make(map[string]chan *MediaConn),
	}
}

// Expect registers interest in a channel's media connection before the
// channel is originated, so the dial-back cannot race the waiter.
func (h *MediaHub) Expect(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.waiters[channelID]; !ok {
		h.waiters[channelID] = make(chan *MediaConn, 1)
	}
}

// Forget drops a pending expectation (the call failed before media arrived).
func (h *MediaHub) Forget(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.waiters, channelID)
}

// WaitConn blocks until the telephony server connects the channel's media
// socket, or ctx ends.
func (h *MediaHub) WaitConn(ctx context.Context, channelID string) (*MediaConn, error) {
	h.mu.Lock()
	ch, ok := h.waiters[channelID]
	if !ok {
		ch = make(chan *MediaConn, 1)
		h.waiters[channelID] = ch
	}
	h.mu.Unlock()

	select {
	case <-ctx.Done():
		h.Forget(channelID)
		return nil, ctx.Err()
	case conn := <-ch:
		h.Forget(channelID)
		return conn, nil
	}
}

// HandleUpgrade upgrades an incoming media request and hands the connection
// to the waiter. Unexpected channel IDs are rejected.
func (h *MediaHub) HandleUpgrade(w http.ResponseWriter, r *http.Request, channelID string) {
	h.mu.Lock()
	ch, ok := h.waiters[channelID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("media upgrade failed", "channel_id", channelID, "err", err)
		return
	}

	mc := &MediaConn{channelID: channelID, conn: conn}
	select {
	case ch <- mc:
	default:
		// A second dial-back for the same channel; the first one won.
		_ = conn.Close()
	}
}

// MediaConn is one channel's duplex audio stream.
//
// Concurrency: ReadFrame from one goroutine, WriteFrame from any (serialized
// by the write mutex), per the underlying WebSocket's rules.
type MediaConn struct {
	channelID string
	conn      *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (m *MediaConn) ChannelID() string { return m.channelID }

// ReadFrame returns the next inbound audio frame in arrival order.
func (m *MediaConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := m.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return data, nil
		}
		// Text frames are keepalives on this path; skip them.
	}
}

// WriteFrame sends one audio frame toward the caller.
func (m *MediaConn) WriteFrame(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = m.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return m.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close is idempotent.
func (m *MediaConn) Close() error {
	m.closeOnce.Do(func() {
		m.writeMu.Lock()
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		m.writeMu.Unlock()
		m.closeErr = m.conn.Close()
	})
	return m.closeErr
}

// MediaURL builds the dial-back URL the telephony server uses for a channel.
func MediaURL(base, channelID string) string {
	return fmt.Sprintf("%s/media/%s", base, channelID)
}
