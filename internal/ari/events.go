package ari

import "time"

// Event is one message from the control plane's event stream. Only the
// fields this engine consumes are modeled; the full payload stays in Raw for
// debugging.
type Event struct {
	Type        string    `json:"type"`
	Application string    `json:"application"`
	Timestamp   time.Time `json:"timestamp"`

	Channel  *Channel  `json:"channel,omitempty"`
	Playback *Playback `json:"playback,omitempty"`

	// Cause is set on ChannelDestroyed (Q.850 cause code).
	Cause    int    `json:"cause,omitempty"`
	CauseTxt string `json:"cause_txt,omitempty"`
	Digit    string `json:"digit,omitempty"`
}

// Event types consumed by the providers.
const (
	EventStasisStart        = "StasisStart"
	EventStasisEnd          = "StasisEnd"
	EventChannelStateChange = "ChannelStateChange"
	EventChannelDestroyed   = "ChannelDestroyed"
	EventChannelDtmf        = "ChannelDtmfReceived"
	EventPlaybackFinished   = "PlaybackFinished"
)

// Channel is the live-call handle on the telephony server.
type Channel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`

	Caller    Endpoint `json:"caller"`
	Connected Endpoint `json:"connected"`

	CreationTime time.Time `json:"creationtime"`
}

// Channel states reported by ChannelStateChange.
const (
	ChannelStateRing    = "Ring"
	ChannelStateRinging = "Ringing"
	ChannelStateUp      = "Up"
	ChannelStateBusy    = "Busy"
)

type Endpoint struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

type Playback struct {
	ID       string `json:"id"`
	MediaURI string `json:"media_uri"`
	State    string `json:"state"`
}

// Hangup cause codes (Q.850) the dialer maps to outcomes.
const (
	CauseNormalClearing = 16
	CauseUserBusy       = 17
	CauseNoAnswer       = 19
)
