package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openbroadcast/stream-api/app"
	"openbroadcast/stream-api/config"
	"openbroadcast/stream-api/pkg/middleware"

	"github.com/gin-gonic/gin"
	v "github.com/spf13/viper"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	if err := run(); err != nil {
		zap.L().Error("Fatal error", zap.Error(err))
		zap.L().Sync()
		os.Exit(1)
	}
}

func run() error {
	// Config warnings are logged before the configured level is known
	if err := app.MakeLogger("info"); err != nil {
		return err
	}

	if err := config.Setup(); err != nil {
		return fmt.Errorf("invalid config, %w", err)
	}

	if err := app.MakeLogger(v.GetString("app.log_level")); err != nil {
		return err
	}
	defer zap.L().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := app.NewDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	if *config.RunOnce {
		report, err := d.Poller.RunOnce(ctx)
		if err != nil {
			return err
		}

		if report.LockHeld {
			zap.L().Warn("Reconciliation lock held elsewhere, nothing was done")
			return nil
		}

		zap.L().Info("Reconciliation cycle finished", report.Fields()...)
		return nil
	}

	if err := d.Poller.Start(ctx); err != nil {
		return err
	}

	router := app.NewRouter(ctx, d, app.RouterConfig{
		Origins:   v.GetStringSlice("host.cors"),
		RateLimit: v.GetInt("security.rate_limit"),
		CacheTTL:  15 * time.Second,
		Turnstile: middleware.TurnstileConfig{
			Enabled: v.GetBool("cloudflare.turnstile.enabled"),
			Secret:  v.GetString("cloudflare.turnstile.secret_token"),
		},
		MaxThumbnailSize: v.GetInt64("thumbnail.max_size") << 20,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", v.GetInt("host.port")),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		zap.L().Info("Server starting", zap.String("addr", srv.Addr))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			stopPoller(stopCtx, d.Poller)
			return err
		}
	case <-ctx.Done():
		zap.L().Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Failed to shut down server cleanly", zap.Error(err))
	}

	return d.Poller.Stop(shutdownCtx)
}

type stopper interface {
	Stop(ctx context.Context) error
}

// stopPoller stops the poller on an error path where the caller already has
// an error to return, so a failed stop is only logged.
func stopPoller(ctx context.Context, p stopper) {
	if err := p.Stop(ctx); err != nil {
		zap.L().Warn("Failed to stop poller", zap.Error(err))
	}
}
