package realtime

import "encoding/json"

// Wire types for the realtime AI WebSocket protocol. The engine is a client
// only; the protocol is versioned and owned by the provider.

// Client -> server event types.
const (
	EventSessionUpdate  = "session.update"
	EventAudioAppend    = "input_audio_buffer.append"
	EventAudioClear     = "input_audio_buffer.clear"
	EventItemCreate     = "conversation.item.create"
	EventResponseCreate = "response.create"
	EventResponseCancel = "response.cancel"
)

// Server -> client event types.
const (
	EventSessionCreated   = "session.created"
	EventSessionUpdated   = "session.updated"
	EventSpeechStarted    = "input_audio_buffer.speech_started"
	EventAudioDelta       = "response.audio.delta"
	EventAudioTranscript  = "response.audio_transcript.delta"
	EventInputTranscript  = "conversation.item.input_audio_transcription.completed"
	EventFunctionCallDone = "response.function_call_arguments.done"
	EventResponseDone     = "response.done"
	EventError            = "error"
)

// SessionConfig is the one-time session.update payload sent after connect:
// voice, turn-detection thresholds, system prompt, tool schemas.
type SessionConfig struct {
	Modalities              []string           `json:"modalities,omitempty"`
	Voice                   string             `json:"voice,omitempty"`
	Instructions            string             `json:"instructions,omitempty"`
	InputAudioFormat        string             `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string             `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConf `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection     `json:"turn_detection,omitempty"`
	Tools                   []ToolDef          `json:"tools,omitempty"`
	Temperature             float64            `json:"temperature,omitempty"`
}

type TranscriptionConf struct {
	Model string `json:"model"`
}

// TurnDetection carries the VAD knobs; detection itself runs provider-side.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// ToolDef is the JSON-schema tool declaration surfaced to the model.
type ToolDef struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ServerEvent is the decoded union of server events. Unmodeled fields stay in
// Raw.
type ServerEvent struct {
	Type string `json:"type"`

	// Delta carries base64 audio on response.audio.delta and text on
	// transcript delta events.
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// Function-call fields on response.function_call_arguments.done.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Response *Response `json:"response,omitempty"`
	Error    *APIError `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type Response struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Usage  *Usage `json:"usage,omitempty"`
}

// Usage is the per-response token delta carried by response.done.
type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	InputTokenDetails *struct {
		CachedTokens int `json:"cached_tokens"`
		TextTokens   int `json:"text_tokens"`
		AudioTokens  int `json:"audio_tokens"`

		CachedTokensDetails *struct {
			TextTokens  int `json:"text_tokens"`
			AudioTokens int `json:"audio_tokens"`
		} `json:"cached_tokens_details"`
	} `json:"input_token_details"`

	OutputTokenDetails *struct {
		TextTokens  int `json:"text_tokens"`
		AudioTokens int `json:"audio_tokens"`
	} `json:"output_token_details"`
}

type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
