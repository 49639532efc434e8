package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"qmpie/internal/config"
	"qmpie/internal/httpapi"
	"qmpie/internal/i18n"
	"qmpie/internal/observability"
	"qmpie/internal/orchestrator"
	"qmpie/internal/provider"
	"qmpie/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the questionnaire authoring HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if strings.TrimSpace(addr) != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg, a.logger, a.verbose)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, PORT or :8080)")
	return cmd
}

// stack is the server-side object graph built from a Config.
type stack struct {
	registry *session.Registry
	orch     *orchestrator.Orchestrator
	api      *httpapi.Server
	metrics  *observability.Metrics
}

func buildStack(cfg config.Config, logger *zap.Logger) *stack {
	metrics := observability.NewMetrics(nil)

	var (
		prov    provider.Provider = provider.Disabled{}
		timeout time.Duration
	)
	if cfg.ProviderEnabled() {
		oa := provider.NewOpenAIProvider(provider.OpenAIConfig{
			BaseURL:         cfg.Provider.BaseURL,
			APIKey:          cfg.Provider.APIKey,
			Model:           cfg.Provider.Model,
			TimeoutMS:       cfg.Provider.TimeoutMS,
			MaxRetries:      cfg.Provider.MaxRetries,
			ReasoningEffort: cfg.Provider.ReasoningEffort,
		})
		prov, timeout = oa, oa.Timeout()
	} else {
		logger.Warn("model provider disabled", zap.Strings("missing", cfg.MissingKeys()))
	}

	var registry *session.Registry
	registry = session.NewRegistry(session.Options{
		Capacity:        cfg.Session.Capacity,
		TTL:             cfg.Session.TTL,
		JanitorInterval: cfg.Session.JanitorInterval,
		MaxTurns:        cfg.Session.MaxRecentTurns,
		SummaryRunes:    cfg.Session.SummaryMaxChars,
		Logger:          logger,
		OnEvict: func(reason string) {
			metrics.SessionEvicted(reason)
			metrics.SetSessionsActive(registry.Len())
		},
	})

	orch := orchestrator.New(orchestrator.Options{
		Provider:  prov,
		Registry:  registry,
		PhaseTool: cfg.Provider.PhaseTool,
		Timeout:   timeout,
		Logger:    logger,
		Metrics:   metrics,
	})

	api := httpapi.New(orch, registry, httpapi.Options{
		ProviderEnabled: cfg.ProviderEnabled(),
		MissingKeys:     cfg.MissingKeys(),
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitRPS:    cfg.Server.RateLimitRPS,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		AdminToken:      cfg.Server.AdminToken,
		BodyLimitBytes:  cfg.Server.BodyLimitBytes,
		Logger:          logger,
		Metrics:         metrics,
		Messages:        i18n.Global(),
	})

	return &stack{registry: registry, orch: orch, api: api, metrics: metrics}
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingOptions{
		Exporter:       cfg.Tracing.Exporter,
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}

	st := buildStack(cfg, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           st.api.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutMS) * time.Millisecond,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("qmpie API listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Bool("openai_enabled", cfg.ProviderEnabled()),
			zap.String("model", cfg.Provider.Model))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		timeout := time.Duration(cfg.Server.ShutdownTimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := st.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close registry: %w", err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
