package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"inferd/internal/config"
	"inferd/internal/daemon"
	"inferd/internal/httpapi"
	"inferd/internal/runners"
	"inferd/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	addr        string
	modelsDir   string
	settings    string
	workers     int
	budgetMB    int
	marginMB    int
	corsOrigins string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			return serve(cmd.Context(), cfg)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8080")
	fl.StringVar(&f.modelsDir, "models-dir", "", "directory scanned for model files")
	fl.StringVar(&f.settings, "settings", "", "engine settings document (selected runners and parameters)")
	fl.IntVar(&f.workers, "workers", 0, "concurrently executing requests")
	fl.IntVar(&f.budgetMB, "budget-mb", 0, "memory budget in MB for loaded models (0=unlimited)")
	fl.IntVar(&f.marginMB, "margin-mb", 0, "memory in MB kept free inside the budget")
	fl.StringVar(&f.corsOrigins, "cors-origins", "", "comma-separated allowed CORS origins; enables CORS")
	return cmd
}

// apply overlays flags the user set on cfg.
func (f serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = f.addr
	}
	if changed("models-dir") {
		cfg.ModelsDir = f.modelsDir
	}
	if changed("settings") {
		cfg.SettingsPath = f.settings
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("budget-mb") {
		cfg.BudgetMB = f.budgetMB
	}
	if changed("margin-mb") {
		cfg.MarginMB = f.marginMB
	}
	if changed("cors-origins") {
		cfg.CORSEnabled = true
		cfg.CORSOrigins = splitCSV(f.corsOrigins)
	}
	*cfg = cfg.WithDefaults()
}

func serve(parent context.Context, cfg config.Config) error {
	log := newLogger(cfg.LogLevel, cfg.LogFormat, nil)
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "inferd", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRateLimit(cfg.RateLimit, cfg.RateBurst)
	httpapi.SetInferTimeout(time.Duration(cfg.InferTimeoutSeconds) * time.Second)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)
	httpapi.SetBaseContext(ctx)

	d := daemon.New(daemon.ConfigFrom(cfg, runners.Plugins(), log))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(d),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// /healthz answers while runners are discovered; /readyz waits for it
	if _, err := d.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("serving without runners")
	}
	go func() {
		if err := d.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("settings watch stopped")
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errc:
		log.Error().Err(runErr).Msg("server error")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := d.Close(sctx); err != nil {
		log.Warn().Err(err).Msg("engine close")
	}
	if err := shutdownTracing(sctx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
	return runErr
}
