package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"voiceagent-platform/internal/provider"
)

// HTTP clients for the three pipeline stages. All talk OpenAI-compatible
// endpoints so the stage vendors are swappable behind base URLs.

const defaultAPIBase = "https://api.openai.com"

type Transcriber struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

func NewTranscriber(baseURL, apiKey string) *Transcriber {
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &Transcriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   "whisper-1",
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Transcribe converts one utterance of audio (wav) to text.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return "", err
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Text string `json:"text"`
	}
	if err := doJSON(t.httpc, req, &out); err != nil {
		return "", fmt.Errorf("stt: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

type ChatClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewChatClient(baseURL, apiKey string) *ChatClient {
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type ChatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

// Complete runs one chat turn; the reply may be text, tool calls or both.
func (c *ChatClient) Complete(ctx context.Context, model string, msgs []ChatMessage, tls []ChatTool, temperature float64) (ChatMessage, error) {
	body := map[string]any{
		"model":    model,
		"messages": msgs,
	}
	if len(tls) > 0 {
		body["tools"] = tls
	}
	if temperature > 0 {
		body["temperature"] = temperature
	}
	b, err := json.Marshal(body)
	if err != nil {
		return ChatMessage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return ChatMessage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Choices []struct {
			Message ChatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := doJSON(c.httpc, req, &out); err != nil {
		return ChatMessage{}, fmt.Errorf("llm: %w", err)
	}
	if len(out.Choices) == 0 {
		return ChatMessage{}, provider.Transientf("llm: empty completion")
	}
	return out.Choices[0].Message, nil
}

type Synthesizer struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

func NewSynthesizer(baseURL, apiKey string) *Synthesizer {
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &Synthesizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   "tts-1",
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Synthesize renders text as 8kHz mono PCM suitable for the telephony leg.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = "alloy"
	}
	b, err := json.Marshal(map[string]any{
		"model":           s.model,
		"input":           text,
		"voice":           voice,
		"response_format": "pcm",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/audio/speech", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, provider.Transient(fmt.Errorf("tts: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &provider.HTTPError{Status: resp.StatusCode, Body: "tts: " + string(msg)}
	}
	return io.ReadAll(resp.Body)
}

func doJSON(httpc *http.Client, req *http.Request, out any) error {
	resp, err := httpc.Do(req)
	if err != nil {
		return provider.Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &provider.HTTPError{Status: resp.StatusCode, Body: string(msg)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
