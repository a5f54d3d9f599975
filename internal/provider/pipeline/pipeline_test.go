package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"voiceagent-platform/internal/call"
)

func TestEndCall_UnknownCallIsAlreadyEnded(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(Config{}, nil, nil, call.NewRegistry(), nil, nil, nil, nil, nil, nil, log)

	res, err := p.EndCall(context.Background(), "never-existed")
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if !res.AlreadyEnded || res.Signaled || res.Terminated {
		t.Fatalf("result = %+v, want AlreadyEnded only", res)
	}
}
