package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voiceagent", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		ARI: ARIConfig{
			BaseURL:       "http://localhost:8088/ari",
			Username:      "ari",
			Password:      "x",
			TrunkEndpoint: "PJSIP/{number}@outbound",
			MediaBaseURL:  "ws://localhost:8080",
		},
		Realtime: RealtimeConfig{URL: "wss://api.example.com/v1/realtime", APIKey: "k"},
		SipAI:    SipAIConfig{BaseURL: "https://api.sipai.example.com", APIKey: "k", TrunkURI: "sip:agent@pbx.example.com"},
		Tools:    ToolsConfig{TokenSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_DialerDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Dialer.TickInterval != 30*time.Second {
		t.Fatalf("expected 30s tick default, got %v", c.Dialer.TickInterval)
	}
	if c.Dialer.Workers != 20 {
		t.Fatalf("expected 20 workers default, got %d", c.Dialer.Workers)
	}
	if c.Dialer.CompletionInterval != 2*time.Minute {
		t.Fatalf("expected 2m completion default, got %v", c.Dialer.CompletionInterval)
	}
}

func TestValidate_WebhookSecretRequiredWithURL(t *testing.T) {
	c := validLocal()
	c.Webhook.URL = "https://hooks.example.com/calls"
	c.Webhook.Secret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for webhook URL without secret")
	}
}
