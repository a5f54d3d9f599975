package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	ARI      ARIConfig
	Realtime RealtimeConfig
	SipAI    SipAIConfig
	Pipeline PipelineConfig
	Dialer   DialerConfig
	Webhook  WebhookConfig
	Tools    ToolsConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable base of this API, used to
	// build the tool webhook URLs handed to the native-SIP provider.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for managed-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// ARIConfig points at the telephony server's control plane.
type ARIConfig struct {
	BaseURL  string
	Username string
	Password string

	// AppName is the Stasis application channels are originated into.
	AppName string

	// TrunkEndpoint is the endpoint template for outbound legs,
	// e.g. "PJSIP/{number}@outbound".
	TrunkEndpoint string

	// MediaBaseURL is the externally reachable base of this process's media
	// WebSocket, e.g. "ws://10.0.0.5:8080". The telephony server dials
	// {MediaBaseURL}/media/{channel_id} once a channel enters the app.
	MediaBaseURL string
}

// RealtimeConfig covers the bridge provider's AI WebSocket session.
type RealtimeConfig struct {
	URL    string
	APIKey string

	// DefaultModel applies when the agent config carries no model.
	DefaultModel string
}

// SipAIConfig covers the native-SIP provider's REST API.
type SipAIConfig struct {
	BaseURL string
	APIKey  string

	// TrunkURI is the inbound SIP URI registered on the shared telephony
	// server that the provider dials into.
	TrunkURI string

	// DeciminuteRateUSD is the per-6-second-unit price.
	DeciminuteRateUSD float64
}

// PipelineConfig covers the cloud STT->LLM->TTS path.
type PipelineConfig struct {
	STTAPIKey string
	LLMAPIKey string
	TTSAPIKey string

	PerMinuteRateUSD float64
}

type DialerConfig struct {
	// TickInterval is the campaign admission loop period.
	TickInterval time.Duration
	// CompletionInterval is the (slower) campaign completion check period.
	CompletionInterval time.Duration

	// Workers bounds concurrent call-placement tasks across all campaigns.
	Workers int

	// GlobalMaxCalls caps concurrent live calls process-wide via the redis
	// concurrency cap; 0 disables the cap.
	GlobalMaxCalls int
}

type WebhookConfig struct {
	// URL is the lifecycle-event receiver; empty disables delivery.
	URL    string
	Secret string
}

// ToolsConfig signs the per-call bearer tokens that authenticate provider
// tool webhooks on the native-SIP path.
type ToolsConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.ARI.BaseURL = strings.TrimSpace(os.Getenv("ARI_BASE_URL"))
	c.ARI.Username = strings.TrimSpace(os.Getenv("ARI_USERNAME"))
	c.ARI.Password = os.Getenv("ARI_PASSWORD")
	c.ARI.AppName = strings.TrimSpace(os.Getenv("ARI_APP_NAME"))
	c.ARI.TrunkEndpoint = strings.TrimSpace(os.Getenv("ARI_TRUNK_ENDPOINT"))
	c.ARI.MediaBaseURL = strings.TrimSpace(os.Getenv("ARI_MEDIA_BASE_URL"))

	c.Realtime.URL = strings.TrimSpace(os.Getenv("REALTIME_URL"))
	c.Realtime.APIKey = os.Getenv("REALTIME_API_KEY")
	c.Realtime.DefaultModel = strings.TrimSpace(os.Getenv("REALTIME_DEFAULT_MODEL"))

	c.SipAI.BaseURL = strings.TrimSpace(os.Getenv("SIPAI_BASE_URL"))
	c.SipAI.APIKey = os.Getenv("SIPAI_API_KEY")
	c.SipAI.TrunkURI = strings.TrimSpace(os.Getenv("SIPAI_TRUNK_URI"))
	c.SipAI.DeciminuteRateUSD = optFloat("SIPAI_DECIMINUTE_RATE_USD")

	c.Pipeline.STTAPIKey = os.Getenv("PIPELINE_STT_API_KEY")
	c.Pipeline.LLMAPIKey = os.Getenv("PIPELINE_LLM_API_KEY")
	c.Pipeline.TTSAPIKey = os.Getenv("PIPELINE_TTS_API_KEY")
	c.Pipeline.PerMinuteRateUSD = optFloat("PIPELINE_PER_MINUTE_RATE_USD")

	// Dialer knobs are optional; defaults applied in Validate().
	c.Dialer.TickInterval = mustDuration("DIALER_TICK_INTERVAL")
	c.Dialer.CompletionInterval = mustDuration("DIALER_COMPLETION_INTERVAL")
	c.Dialer.Workers = optInt("DIALER_WORKERS")
	c.Dialer.GlobalMaxCalls = optInt("DIALER_GLOBAL_MAX_CALLS")

	c.Webhook.URL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
	c.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")

	c.Tools.TokenSecret = os.Getenv("TOOL_TOKEN_SECRET")
	c.Tools.TokenTTL = mustDuration("TOOL_TOKEN_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required in production"))
		} else {
			c.App.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.App.Port)
		}
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.ARI.BaseURL == "" {
		errs = append(errs, errors.New("ARI_BASE_URL is required"))
	}
	if c.ARI.Username == "" {
		errs = append(errs, errors.New("ARI_USERNAME is required"))
	}
	if c.ARI.AppName == "" {
		c.ARI.AppName = "voiceagent"
	}
	if c.ARI.TrunkEndpoint == "" {
		errs = append(errs, errors.New("ARI_TRUNK_ENDPOINT is required"))
	}
	if c.ARI.MediaBaseURL == "" {
		errs = append(errs, errors.New("ARI_MEDIA_BASE_URL is required"))
	}

	if c.Realtime.URL == "" {
		errs = append(errs, errors.New("REALTIME_URL is required"))
	}
	if c.Realtime.APIKey == "" {
		errs = append(errs, errors.New("REALTIME_API_KEY is required"))
	}
	if c.Realtime.DefaultModel == "" {
		c.Realtime.DefaultModel = "gpt-realtime"
	}

	if c.SipAI.BaseURL == "" {
		errs = append(errs, errors.New("SIPAI_BASE_URL is required"))
	}
	if c.SipAI.DeciminuteRateUSD < 0 {
		errs = append(errs, errors.New("SIPAI_DECIMINUTE_RATE_USD must be >= 0"))
	}

	if c.Pipeline.PerMinuteRateUSD < 0 {
		errs = append(errs, errors.New("PIPELINE_PER_MINUTE_RATE_USD must be >= 0"))
	}

	if c.Dialer.TickInterval <= 0 {
		c.Dialer.TickInterval = 30 * time.Second
	}
	if c.Dialer.CompletionInterval <= 0 {
		c.Dialer.CompletionInterval = 2 * time.Minute
	}
	if c.Dialer.Workers <= 0 {
		c.Dialer.Workers = 20
	}
	if c.Dialer.GlobalMaxCalls < 0 {
		errs = append(errs, errors.New("DIALER_GLOBAL_MAX_CALLS must be >= 0"))
	}

	if c.Webhook.URL != "" && c.Webhook.Secret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set"))
	}

	if c.Tools.TokenSecret == "" {
		errs = append(errs, errors.New("TOOL_TOKEN_SECRET is required"))
	}
	if c.Tools.TokenTTL <= 0 {
		// Tool tokens only need to outlive one call.
		c.Tools.TokenTTL = 2 * time.Hour
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optFloat(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
