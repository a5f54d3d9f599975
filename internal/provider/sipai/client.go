package sipai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voiceagent-platform/internal/provider"
)

// Client talks to the native-SIP AI platform's REST API. The platform owns
// the entire call once created: telephony leg, AI session and tool webhooks
// back into this process.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

var ErrCallNotFound = errors.New("sipai: call not found")

// Call statuses reported by the platform.
const (
	CallStatusQueued  = "queued"
	CallStatusRinging = "ringing"
	CallStatusJoining = "joining"
	CallStatusActive  = "active"
	CallStatusEnded   = "ended"
)

// End reasons reported on ended calls.
const (
	EndReasonHangup      = "hangup"
	EndReasonAgentHangup = "agent_hangup"
	EndReasonTimeout     = "timeout"
	EndReasonBusy        = "busy"
	EndReasonNoAnswer    = "no_answer"
	EndReasonError       = "error"
)

// CreateCallRequest declares one outbound call for the platform to place.
type CreateCallRequest struct {
	SystemPrompt string  `json:"system_prompt"`
	Voice        string  `json:"voice,omitempty"`
	Greeting     string  `json:"greeting,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`

	Medium MediumSpec `json:"medium"`

	// MaxDurationSeconds hard-caps the call platform-side.
	MaxDurationSeconds int `json:"max_duration_seconds,omitempty"`

	Tools []ToolDecl `json:"tools,omitempty"`

	// Metadata is echoed back verbatim on webhooks and status reads.
	Metadata map[string]string `json:"metadata,omitempty"`

	Recording bool `json:"recording,omitempty"`
}

type MediumSpec struct {
	SIP SIPSpec `json:"sip"`
}

type SIPSpec struct {
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
	TrunkURI string `json:"trunk_uri,omitempty"`
}

// ToolDecl registers one HTTP tool with the platform: the model calls it, the
// platform POSTs to URL with the bearer token, the response body is the tool
// result.
type ToolDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	URL         string         `json:"url"`
	BearerToken string         `json:"bearer_token,omitempty"`
}

// CallInfo is the platform's view of one call.
type CallInfo struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	EndReason       string            `json:"end_reason,omitempty"`
	DurationSeconds int               `json:"duration_seconds"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// TranscriptMessage is one utterance from the platform's transcript API.
type TranscriptMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// CreateCall places the call. The platform dials out immediately.
func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (CallInfo, error) {
	var info CallInfo
	if err := c.do(ctx, http.MethodPost, "/v1/calls", req, &info); err != nil {
		return CallInfo{}, err
	}
	return info, nil
}

// GetCall reads current status.
func (c *Client) GetCall(ctx context.Context, id string) (CallInfo, error) {
	var info CallInfo
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+url.PathEscape(id), nil, &info); err != nil {
		return CallInfo{}, err
	}
	return info, nil
}

// DeleteCall cancels a call that has not joined yet. The platform rejects
// deletes on active calls.
func (c *Client) DeleteCall(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/calls/"+url.PathEscape(id), nil, nil)
}

// SendHangup asks the in-call agent to end an active call gracefully via the
// platform's data-message channel.
func (c *Client) SendHangup(ctx context.Context, id string) error {
	body := map[string]string{"type": "hangup"}
	return c.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(id)+"/messages", body, nil)
}

// SendTransfer asks the platform to bridge the caller to another number.
func (c *Client) SendTransfer(ctx context.Context, id, toNumber string) error {
	body := map[string]string{"type": "transfer", "to": toNumber}
	return c.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(id)+"/messages", body, nil)
}

// GetTranscript fetches the transcript accumulated so far; valid mid-call.
func (c *Client) GetTranscript(ctx context.Context, id string) ([]TranscriptMessage, error) {
	var out struct {
		Messages []TranscriptMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+url.PathEscape(id)+"/transcript", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// GetRecordingURL returns the recording location, "" until one exists.
func (c *Client) GetRecordingURL(ctx context.Context, id string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/calls/"+url.PathEscape(id)+"/recording", nil, &out)
	if errors.Is(err, ErrCallNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return provider.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrCallNotFound
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &provider.HTTPError{Status: resp.StatusCode, Body: fmt.Sprintf("sipai %s %s: %s", method, path, string(b))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
