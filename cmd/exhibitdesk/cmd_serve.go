package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/exhibitdesk/internal/auth"
	"github.com/HerbHall/exhibitdesk/internal/browse"
	"github.com/HerbHall/exhibitdesk/internal/config"
	"github.com/HerbHall/exhibitdesk/internal/editor"
	"github.com/HerbHall/exhibitdesk/internal/event"
	"github.com/HerbHall/exhibitdesk/internal/exhibitsapi"
	"github.com/HerbHall/exhibitdesk/internal/metrics"
	"github.com/HerbHall/exhibitdesk/internal/plugin"
	"github.com/HerbHall/exhibitdesk/internal/server"
	"github.com/HerbHall/exhibitdesk/internal/services"
	"github.com/HerbHall/exhibitdesk/internal/settings"
	"github.com/HerbHall/exhibitdesk/internal/store"
	"github.com/HerbHall/exhibitdesk/internal/version"
	pkgplugin "github.com/HerbHall/exhibitdesk/pkg/plugin"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, level, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if watchLogLevel(cfg, level, logger) {
		logger.Info("watching config file", zap.String("file", cfg.Viper().ConfigFileUsed()))
	}

	logger.Info("exhibitdesk starting", zap.String("version", version.Info()))

	st, err := store.New(cfg.GetString("store.path"), store.WithLogger(logger.Named("store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Checkpoint(context.Background()); err != nil {
			logger.Warn("final checkpoint failed", zap.Error(err))
		}
		_ = st.Close()
	}()

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	api, err := exhibitsapi.New(exhibitsapi.Options{
		BaseURL:       cfg.GetString("api.base_url"),
		Timeout:       cfg.GetDuration("api.timeout"),
		RatePerSecond: cfg.GetFloat64("api.rate_per_second"),
		Burst:         cfg.GetInt("api.burst"),
	}, logger.Named("exhibitsapi"))
	if err != nil {
		return err
	}

	m := metrics.New()
	bus := event.NewBus(logger.Named("event"))
	unsubscribe := bus.SubscribeAll(func(_ context.Context, e pkgplugin.Event) {
		logger.Debug("event", zap.String("topic", e.Topic), zap.String("source", e.Source), zap.Any("payload", e.Payload))
	})
	defer unsubscribe()

	registry := plugin.NewRegistry(logger)
	modules := []pkgplugin.Plugin{
		browse.New(api, m),
		editor.New(api, m),
		settings.NewHandler(services.PagerPrefs{
			PageSize:   cfg.GetInt("modules.browse.page_size"),
			MaxVisible: cfg.GetInt("modules.browse.max_visible"),
		}),
	}
	for _, p := range modules {
		if err := registry.Register(p); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := pkgplugin.Dependencies{Config: cfg.Viper(), Logger: logger, Store: st, Bus: bus}
	if err := registry.InitAll(ctx, deps); err != nil {
		return err
	}
	if err := registry.StartAll(ctx); err != nil {
		return err
	}

	srv := server.New(server.Options{
		Addr:          cfg.GetString("server.host") + ":" + cfg.GetString("server.port"),
		ReadTimeout:   cfg.GetDuration("server.read_timeout"),
		WriteTimeout:  cfg.GetDuration("server.write_timeout"),
		IdleTimeout:   cfg.GetDuration("server.idle_timeout"),
		RatePerSecond: cfg.GetFloat64("server.rate_per_second"),
		Burst:         cfg.GetInt("server.burst"),
	}, registry, m, verifier, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetDuration("server.shutdown_timeout"))
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		registry.StopAll(shutdownCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("exhibitdesk stopped")
	return nil
}

// newVerifier returns nil only when auth.disabled is set explicitly.
func newVerifier(cfg *config.Config) (*auth.Verifier, error) {
	if cfg.GetBool("auth.disabled") {
		return nil, nil
	}
	secret := cfg.GetString("auth.jwt_secret")
	if secret == "" {
		return nil, errors.New("auth.jwt_secret is required (set EXHIBITDESK_AUTH_JWT_SECRET or auth.disabled)")
	}
	return auth.NewVerifier(secret, cfg.GetString("auth.issuer"), cfg.GetDuration("auth.token_ttl"))
}
