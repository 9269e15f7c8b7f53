package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"llmfirewall/internal/api"
	"llmfirewall/internal/audit"
	auditmetrics "llmfirewall/internal/audit/metrics"
	"llmfirewall/internal/classifier"
	"llmfirewall/internal/detector"
	detectormetrics "llmfirewall/internal/detector/metrics"
	"llmfirewall/internal/platform/config"
	"llmfirewall/internal/platform/httpserver"
	"llmfirewall/internal/platform/logger"
	redisplatform "llmfirewall/internal/platform/redis"
	"llmfirewall/internal/policy"
	policymetrics "llmfirewall/internal/policy/metrics"
	"llmfirewall/internal/proxy"
	proxymetrics "llmfirewall/internal/proxy/metrics"
	"llmfirewall/internal/safety"
	"llmfirewall/internal/siem"
	"llmfirewall/internal/token"
	"llmfirewall/internal/token/remote"
	tokenmetrics "llmfirewall/internal/token/metrics"
)

const version = "0.1.0"

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(slog.LevelInfo)

	doc, err := policy.LoadWithOverride(cfg.PolicyPath, cfg.PolicyOverridePath)
	if err != nil {
		log.Error("loading policy document", "error", err)
		os.Exit(1)
	}

	det := detector.New(detectormetrics.New())
	cls := classifier.New(classifier.DefaultThreshold)
	engine := policy.New(doc, policymetrics.New())

	tokenStore, closeStore, err := buildTokenStore(cfg, log)
	if err != nil {
		log.Error("building token store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	gen := token.NewGenerator(cfg.Salt)
	tokenSvc := token.NewService(det, cls, engine, tokenStore, gen, token.DefaultTTL)

	aMetrics := auditmetrics.New()
	shipper := buildShipper(cfg.SIEM)
	forwarder := audit.NewSIEMForwarder(shipper, 1000, 0, 0, aMetrics)
	auditLogger, err := audit.NewLogger(cfg.AuditPath, forwarder, aMetrics)
	if err != nil {
		log.Error("opening audit log", "error", err)
		os.Exit(1)
	}
	defer auditLogger.Close()

	safetyFilter := safety.New(nil)
	safetyMode := safety.Mode(cfg.SafetyMode)

	apiHandler := api.New(det, cls, engine, doc, tokenSvc, auditLogger, log, version, string(cfg.TokenBackend), cfg.SIEM.Type != config.SIEMTypeNone, cfg.MaxPayloadBytes)

	router := chi.NewRouter()
	router.Use(api.MCPHeaders)
	apiHandler.Register(router)

	if cfg.ProxyEnabled {
		pMetrics := proxymetrics.New()
		proxySvc := proxy.NewService(tokenSvc, doc, auditLogger, safetyFilter, safetyMode, pMetrics)
		proxyHandler := proxy.New(proxySvc, proxyRoutes(cfg), log, pMetrics, "global", "prod", cfg.MaxPayloadBytes)
		proxyHandler.Register(router)
	}

	srv := httpserver.New(cfg.Addr, router)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting llmfirewall", "addr", cfg.Addr, "proxy_enabled", cfg.ProxyEnabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		forwarder.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("llmfirewall exited with error", "error", err)
		os.Exit(1)
	}
}

func buildTokenStore(cfg config.Server, log *slog.Logger) (token.Store, func(), error) {
	switch cfg.TokenBackend {
	case config.TokenBackendRemote:
		client, err := redisplatform.New(cfg.Redis)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connecting to redis: %w", err)
		}
		store, err := remote.New(client.Client, cfg.EncryptionKey)
		if err != nil {
			return nil, func() {}, fmt.Errorf("building remote token store: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	default:
		mem := token.NewInMemory(token.DefaultTTL/10, tokenmetrics.New())
		return mem, mem.Close, nil
	}
}

func buildShipper(cfg config.SIEMConfig) siem.Shipper {
	switch cfg.Type {
	case config.SIEMTypeSplunk:
		return siem.NewSplunkShipper(cfg.SplunkHECURL, cfg.SplunkHECToken)
	case config.SIEMTypeElasticsearch:
		return siem.NewElasticsearchShipper(cfg.ElasticsearchURL, cfg.ElasticsearchIndex, cfg.ElasticsearchAPIKey)
	case config.SIEMTypeDatadog:
		return siem.NewDatadogShipper(cfg.DatadogAPIKey, cfg.DatadogSite, "llmfirewall")
	case config.SIEMTypeSyslog:
		return siem.NewSyslogShipper(cfg.SyslogAddr, 0)
	default:
		return siem.NopShipper{}
	}
}

func proxyRoutes(cfg config.Server) []proxy.ProviderRoute {
	openaiURL := cfg.Upstream.OpenAIURL
	if openaiURL == "" {
		openaiURL = "https://api.openai.com"
	}
	anthropicURL := cfg.Upstream.AnthropicURL
	if anthropicURL == "" {
		anthropicURL = "https://api.anthropic.com"
	}
	googleURL := cfg.Upstream.GoogleURL
	if googleURL == "" {
		googleURL = "https://generativelanguage.googleapis.com"
	}

	return []proxy.ProviderRoute{
		{Path: "/v1/chat/completions", Method: http.MethodPost, Adapter: proxy.OpenAI{}, BaseURL: openaiURL},
		{Path: "/v1/messages", Method: http.MethodPost, Adapter: proxy.Anthropic{}, BaseURL: anthropicURL},
		{Path: "/v1/models/{model}", Method: http.MethodPost, Adapter: proxy.Google{}, BaseURL: googleURL, GoogleLike: true},
		{Path: "/v1beta/models/{model}", Method: http.MethodPost, Adapter: proxy.Google{}, BaseURL: googleURL, GoogleLike: true},
	}
}
