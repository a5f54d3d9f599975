package ari

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to the telephony server's control plane: REST for channel
// operations, a WebSocket event stream for channel-state changes.
//
// Lifecycle: construct once at process start, Run the event pump under the
// root context, inject everywhere. Never a hidden singleton.
type Client struct {
	baseURL  string
	username string
	password string
	appName  string

	httpc *http.Client
	log   *slog.Logger

	mu   sync.Mutex
	subs map[string]chan Event
}

type Config struct {
	BaseURL  string
	Username string
	Password string
	AppName  string
}

var ErrChannelNotFound = errors.New("ari: channel not found")

func NewClient(cfg Config, log *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		appName:  cfg.AppName,
		httpc:    &http.Client{Timeout: 15 * time.Second},
		log:      log,
		subs:     make(map[string]chan Event),
	}
}

// Subscribe returns the event channel for one telephony channel ID. Events
// are dropped, not buffered indefinitely, if the subscriber stops draining.
func (c *Client) Subscribe(channelID string) <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.subs[channelID]
	if !ok {
		ch = make(chan Event, 64)
		c.subs[channelID] = ch
	}
	return ch
}

// Unsubscribe drops the subscription; pending events are discarded.
func (c *Client) Unsubscribe(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[channelID]; ok {
		delete(c.subs, channelID)
		close(ch)
	}
}

func (c *Client) dispatch(ev Event) {
	if ev.Channel == nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.subs[ev.Channel.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		c.log.Warn("ari event dropped, subscriber not draining", "channel_id", ev.Channel.ID, "type", ev.Type)
	}
}

// Run connects the event WebSocket and pumps events until ctx is canceled,
// reconnecting with backoff on stream failure.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := c.pump(ctx)
		if ctx.Err() != nil {
			return
		}
		c.log.Error("ari event stream lost, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) pump(ctx context.Context) error {
	wsURL := c.eventsURL()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ari events dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("ari events dial: %w", err)
	}
	defer conn.Close()
	c.log.Info("ari event stream connected", "app", c.appName)

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("ari event unmarshal failed", "err", err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) eventsURL() string {
	u := strings.Replace(c.baseURL, "http", "ws", 1)
	q := url.Values{}
	q.Set("app", c.appName)
	q.Set("api_key", c.username+":"+c.password)
	q.Set("subscribeAll", "false")
	return u + "/events?" + q.Encode()
}

// OriginateRequest places a new outbound channel into the app.
type OriginateRequest struct {
	Endpoint  string
	CallerID  string
	Timeout   int
	Variables map[string]string
}

// OriginateChannel creates an outbound channel. The channel enters the Stasis
// app on answer; progress arrives on the event stream.
func (c *Client) OriginateChannel(ctx context.Context, req OriginateRequest) (Channel, error) {
	q := url.Values{}
	q.Set("endpoint", req.Endpoint)
	q.Set("app", c.appName)
	if req.CallerID != "" {
		q.Set("callerId", req.CallerID)
	}
	if req.Timeout > 0 {
		q.Set("timeout", fmt.Sprintf("%d", req.Timeout))
	}

	body := map[string]any{}
	if len(req.Variables) > 0 {
		body["variables"] = req.Variables
	}

	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/channels?"+q.Encode(), body, &ch); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

// AnswerChannel answers a ringing channel.
func (c *Client) AnswerChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/answer", nil, nil)
}

// HangupChannel deletes the channel. A 404 means the channel is already gone
// and maps to ErrChannelNotFound so callers can treat it as success.
func (c *Client) HangupChannel(ctx context.Context, channelID, reason string) error {
	path := "/channels/" + url.PathEscape(channelID)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// RedirectChannel sends the channel to a new endpoint (warm transfer).
func (c *Client) RedirectChannel(ctx context.Context, channelID, endpoint string) error {
	q := url.Values{}
	q.Set("endpoint", endpoint)
	path := "/channels/" + url.PathEscape(channelID) + "/redirect?" + q.Encode()
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// StartRecording begins recording the channel; the recording name doubles as
// its retrieval key on the telephony server.
func (c *Client) StartRecording(ctx context.Context, channelID, name string) error {
	q := url.Values{}
	q.Set("name", name)
	q.Set("format", "wav")
	q.Set("ifExists", "overwrite")
	path := "/channels/" + url.PathEscape(channelID) + "/record?" + q.Encode()
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// PlayMedia plays a media URI (sound:..., tone:...) on the channel.
func (c *Client) PlayMedia(ctx context.Context, channelID, mediaURI string) (string, error) {
	q := url.Values{}
	q.Set("media", mediaURI)
	var pb Playback
	path := "/channels/" + url.PathEscape(channelID) + "/play?" + q.Encode()
	if err := c.do(ctx, http.MethodPost, path, nil, &pb); err != nil {
		return "", err
	}
	return pb.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrChannelNotFound
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ari %s %s: status %d: %s", method, path, resp.StatusCode, string(b))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
