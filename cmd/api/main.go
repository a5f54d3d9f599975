package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"voiceagent-platform/internal/ari"
	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/campaign"
	"voiceagent-platform/internal/config"
	"voiceagent-platform/internal/httpapi"
	"voiceagent-platform/internal/livekv"
	"voiceagent-platform/internal/provider"
	"voiceagent-platform/internal/provider/bridge"
	"voiceagent-platform/internal/provider/pipeline"
	"voiceagent-platform/internal/provider/sipai"
	"voiceagent-platform/internal/store"
	"voiceagent-platform/internal/tools"
	"voiceagent-platform/internal/webhook"
	"voiceagent-platform/pkg/logger"
	"voiceagent-platform/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Shared infrastructure.
	pg := store.NewPG(db)
	kv := livekv.NewStore(rdb)
	registry := call.NewRegistry()
	notifier := webhook.NewEmitter(cfg.Webhook.URL, cfg.Webhook.Secret, log)

	signer, err := tools.NewTokenSigner(cfg.Tools.TokenSecret, cfg.Tools.TokenTTL)
	if err != nil {
		log.Error("tool token signer init failed", "err", err)
		os.Exit(1)
	}

	ariClient := ari.NewClient(ari.Config{
		BaseURL:  cfg.ARI.BaseURL,
		Username: cfg.ARI.Username,
		Password: cfg.ARI.Password,
		AppName:  cfg.ARI.AppName,
	}, log)
	go ariClient.Run(rootCtx)

	mediaHub := ari.NewMediaHub(log)

	dispatcher := tools.NewDispatcher(log)
	finisher := &provider.Finisher{
		Registry: registry,
		Results:  pg,
		Notify:   notifier,
		Log:      log,
	}

	// Provider adapters.
	bridgeProvider := bridge.New(bridge.Config{
		RealtimeURL:      cfg.Realtime.URL,
		RealtimeAPIKey:   cfg.Realtime.APIKey,
		DefaultModel:     cfg.Realtime.DefaultModel,
		TrunkEndpoint:    cfg.ARI.TrunkEndpoint,
		MediaBaseURL:     cfg.ARI.MediaBaseURL,
		RecordingBaseURL: cfg.ARI.BaseURL,
	}, ariClient, mediaHub, registry, dispatcher, kv, finisher, log)

	sipaiProvider := sipai.New(sipai.Config{
		TrunkURI:           cfg.SipAI.TrunkURI,
		DeciminuteRateUSD:  cfg.SipAI.DeciminuteRateUSD,
		ToolWebhookBaseURL: cfg.App.PublicBaseURL,
	}, sipai.NewClient(cfg.SipAI.BaseURL, cfg.SipAI.APIKey),
		registry, dispatcher, signer, finisher, log)

	pipelineProvider := pipeline.New(pipeline.Config{
		TrunkEndpoint:    cfg.ARI.TrunkEndpoint,
		MediaBaseURL:     cfg.ARI.MediaBaseURL,
		PerMinuteRateUSD: cfg.Pipeline.PerMinuteRateUSD,
	}, ariClient, mediaHub, registry, dispatcher, kv, finisher,
		pipeline.NewTranscriber("", cfg.Pipeline.STTAPIKey),
		pipeline.NewChatClient("", cfg.Pipeline.LLMAPIKey),
		pipeline.NewSynthesizer("", cfg.Pipeline.TTSAPIKey),
		log)

	router := provider.NewRouter(bridgeProvider, sipaiProvider, pipelineProvider)

	// Tool handlers get their side-effect backend and mid-call control only
	// after the router exists.
	tools.RegisterBuiltins(dispatcher, pg, provider.Control{Registry: registry, Router: router})

	// Campaign dialer.
	dialer := campaign.NewDialer(campaign.DialerConfig{
		TickInterval:       cfg.Dialer.TickInterval,
		CompletionInterval: cfg.Dialer.CompletionInterval,
		Workers:            cfg.Dialer.Workers,
		GlobalMaxCalls:     cfg.Dialer.GlobalMaxCalls,
	}, campaign.NewPGStore(db), pg, router, registry, rdb, log)
	go dialer.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Registry: registry,
			Router:   router,
			Agents:   pg,
			Store:    pg,
			Dialer:   dialer,
			Campaign: campaign.NewPGStore(db),
		},
		toolWebhook: &tools.WebhookHandler{
			Dispatcher: dispatcher,
			Signer:     signer,
			Registry:   registry,
		},
		mediaHub: mediaHub,
		db:       db,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
