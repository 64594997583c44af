package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"decalpress/internal/api"
	"decalpress/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the status API and runs scrape passes on an interval",
		Long: `Starts the HTTP status surface (health, metrics, latest run state)
and, when an interval is given alongside a credential, executes a scrape
pass on that cadence until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "time between scrape passes (0 serves status only)")

	return cmd
}

func runServe(cmd *cobra.Command, interval time.Duration) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	cookie := os.Getenv(cookieEnvVar)
	if interval > 0 && cookie == "" {
		return fmt.Errorf("scheduled runs require %s to be set", cookieEnvVar)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(svc.snapshots, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(serveErr))
			stop()
		}
	}()

	if interval > 0 {
		go runOnSchedule(ctx, svc, cfg.Scraper.SourceURLs, cfg.Scraper.TargetCount, cookie, interval, logger)
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

func runOnSchedule(ctx context.Context, svc *services, sources []string, target int, cookie string, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		prog, err := svc.orchestrator.Run(ctx, pipeline.RunParams{
			Cookie:      cookie,
			SourcePool:  sources,
			TargetCount: target,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduled run failed", zap.Error(err))
		} else {
			logger.Info("scheduled run finished",
				zap.Int("uploaded", prog.Uploaded),
				zap.Int("processed", prog.Processed),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
