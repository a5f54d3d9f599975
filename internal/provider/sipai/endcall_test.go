package sipai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/provider"
	"voiceagent-platform/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sinkResults struct{}

func (sinkResults) SaveCallResult(context.Context, call.Snapshot, billing.Cost) error { return nil }

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) Emit(event, _ string, _ any) {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
}

func (e *eventLog) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func newTestProvider(t *testing.T, baseURL string, notify provider.Notifier) (*Provider, *call.Registry) {
	t.Helper()
	registry := call.NewRegistry()
	signer, err := tools.NewTokenSigner("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	log := testLogger()
	fin := &provider.Finisher{Registry: registry, Results: sinkResults{}, Notify: notify, Log: log}
	p := New(Config{
		TrunkURI:           "sip:trunk.example.com",
		ToolWebhookBaseURL: "http://localhost:8080",
		PollInterval:       5 * time.Millisecond,
	}, NewClient(baseURL, "key"), registry, tools.NewDispatcher(log), signer, fin, log)
	return p, registry
}

// ringingSession registers a live session tracking an un-answered provider
// leg, the state EndCall sees when a campaign is stopped mid-dial.
func ringingSession(t *testing.T, registry *call.Registry, callID, providerID string) *call.Session {
	t.Helper()
	sess := call.NewSession(callID, provider.KindSipAI)
	sess.ProviderCallID = providerID
	if err := sess.Transition(call.StateRinging); err != nil {
		t.Fatalf("Transition(ringing): %v", err)
	}
	if err := registry.Insert(sess); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return sess
}

func TestEndCall_RingingLegIsCanceled(t *testing.T) {
	var deleted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/calls/pc-9":
			json.NewEncoder(w).Encode(CallInfo{ID: "pc-9", Status: CallStatusRinging})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/calls/pc-9":
			deleted = true
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	p, registry := newTestProvider(t, srv.URL, &eventLog{})
	sess := ringingSession(t, registry, "c1", "pc-9")

	res, err := p.EndCall(context.Background(), "c1")
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if !res.Terminated || res.AlreadyEnded || res.Signaled {
		t.Fatalf("result = %+v, want Terminated only", res)
	}
	if !deleted {
		t.Fatalf("ringing leg must be canceled with a provider-side delete")
	}
	if sess.Outcome() != call.StateCompleted {
		t.Fatalf("outcome = %q, want completed after cancel", sess.Outcome())
	}
}

func TestEndCall_ActiveCallGetsGracefulHangup(t *testing.T) {
	var hangupSent bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/calls/pc-9":
			json.NewEncoder(w).Encode(CallInfo{ID: "pc-9", Status: CallStatusActive})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/calls/pc-9/messages":
			var m struct {
				Type string `json:"type"`
			}
			json.NewDecoder(r.Body).Decode(&m)
			hangupSent = m.Type == "hangup"
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	p, registry := newTestProvider(t, srv.URL, &eventLog{})
	sess := ringingSession(t, registry, "c1", "pc-9")
	_ = sess.Transition(call.StateConnected)
	_ = sess.Transition(call.StateTalking)

	res, err := p.EndCall(context.Background(), "c1")
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if !res.Signaled || res.Terminated || res.AlreadyEnded {
		t.Fatalf("result = %+v, want Signaled only", res)
	}
	if !hangupSent {
		t.Fatalf("active call must get the hangup data message")
	}
	if sess.Outcome() != "" {
		t.Fatalf("session must stay live until the monitor observes the end, got %q", sess.Outcome())
	}
}

func TestEndCall_UnknownCallIsAlreadyEnded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no provider traffic expected, got %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, &eventLog{})

	res, err := p.EndCall(context.Background(), "never-existed")
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if !res.AlreadyEnded {
		t.Fatalf("result = %+v, want AlreadyEnded", res)
	}
}

func TestEndCall_ProviderAlreadyEnded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CallInfo{ID: "pc-9", Status: CallStatusEnded, EndReason: EndReasonHangup})
	}))
	defer srv.Close()

	p, registry := newTestProvider(t, srv.URL, &eventLog{})
	ringingSession(t, registry, "c1", "pc-9")

	res, err := p.EndCall(context.Background(), "c1")
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if !res.AlreadyEnded || res.Signaled || res.Terminated {
		t.Fatalf("result = %+v, want AlreadyEnded only", res)
	}
}

// Drives a whole call through Initiate and the status monitor against a stub
// platform, asserting the webhook lifecycle arrives in order.
func TestInitiate_EmitsLifecycleEvents(t *testing.T) {
	var mu sync.Mutex
	status := CallStatusQueued
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/calls":
			json.NewEncoder(w).Encode(CallInfo{ID: "pc-1", Status: CallStatusQueued})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/calls/pc-1":
			mu.Lock()
			s := status
			switch status {
			case CallStatusQueued:
				status = CallStatusActive
			case CallStatusActive:
				status = CallStatusEnded
			}
			mu.Unlock()
			info := CallInfo{ID: "pc-1", Status: s}
			if s == CallStatusEnded {
				info.EndReason = EndReasonHangup
			}
			json.NewEncoder(w).Encode(info)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/calls/pc-1/transcript":
			json.NewEncoder(w).Encode(map[string]any{"messages": []TranscriptMessage{}})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	events := &eventLog{}
	p, registry := newTestProvider(t, srv.URL, events)

	_, err := p.Initiate(context.Background(), provider.InitiateRequest{
		CallID:   "c1",
		To:       "+15550001111",
		CallerID: "+15552223333",
		Agent:    provider.AgentConfig{ID: "agent-1", SystemPrompt: "Be brief."},
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for registry.Len() > 0 {
		select {
		case <-deadline:
			t.Fatalf("call never settled; events so far: %v", events.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}

	want := []string{"call.started", "call.connected", "call.completed"}
	got := events.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}
