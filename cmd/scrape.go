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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"decalpress/internal/asset"
	"decalpress/internal/clock"
	"decalpress/internal/config"
	"decalpress/internal/downloader"
	"decalpress/internal/ledger"
	"decalpress/internal/pipeline"
	"decalpress/internal/progress"
	"decalpress/internal/renderer"
	"decalpress/internal/roblox"
)

// cookieEnvVar supplies the account credential when the flag is absent. The
// credential is held in memory for the duration of the run and never logged
// or persisted.
const cookieEnvVar = "DECALPRESS_COOKIE"

func newScrapeCmd() *cobra.Command {
	var (
		cookie  string
		target  int
		sources []string
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs one scrape-and-upload pass",
		Long: `Executes a single pipeline run: validate the credential, render a
source page, download its images, and upload new ones as decals until the
per-run target is reached or the source pool is exhausted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cookie == "" {
				cookie = os.Getenv(cookieEnvVar)
			}
			if cookie == "" {
				return fmt.Errorf("account cookie required via --cookie or %s", cookieEnvVar)
			}
			return runScrape(cmd, cookie, target, sources)
		},
	}

	cmd.Flags().StringVar(&cookie, "cookie", "", "account cookie (prefer the "+cookieEnvVar+" environment variable)")
	cmd.Flags().IntVar(&target, "target", 0, "uploads to attempt this run (overrides scraper.target_count)")
	cmd.Flags().StringArrayVar(&sources, "source", nil, "source page URL, repeatable (overrides scraper.source_urls)")

	return cmd
}

func runScrape(cmd *cobra.Command, cookie string, target int, sources []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	if len(sources) == 0 {
		sources = cfg.Scraper.SourceURLs
	}
	if target <= 0 {
		target = cfg.Scraper.TargetCount
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(logger)

	prog, err := svc.orchestrator.Run(ctx, pipeline.RunParams{
		Cookie:      cookie,
		SourcePool:  sources,
		TargetCount: target,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run pipeline: %w", err)
	}

	logger.Info("run finished",
		zap.Int("uploaded", prog.Uploaded),
		zap.Int("processed", prog.Processed),
		zap.Int("target", prog.Target),
	)
	return nil
}

// services holds the wired pipeline and the handles subcommands need to
// observe or tear it down.
type services struct {
	orchestrator *pipeline.Orchestrator
	snapshots    *progress.SnapshotSink
	renderer     *renderer.ChromedpRenderer
	notifier     *progress.Notifier
}

func buildServices(cfg config.Config, logger *zap.Logger) (*services, error) {
	led, err := ledger.Load(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	logger.Info("ledger loaded",
		zap.String("path", cfg.Ledger.Path),
		zap.Int("entries", led.Len()),
	)

	fetcher := downloader.New(downloader.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.DownloadTimeout(),
	}, logger)

	rend, err := renderer.New(renderer.Config{
		UserAgent:        cfg.Scraper.UserAgent,
		NavTimeout:       time.Duration(cfg.Renderer.NavTimeoutSec) * time.Second,
		ConsentTimeout:   time.Duration(cfg.Renderer.ConsentTimeoutSec) * time.Second,
		ScrollIterations: cfg.Renderer.ScrollIterations,
		ScrollDelay:      time.Duration(cfg.Renderer.ScrollDelayMs) * time.Millisecond,
		MinDimension:     cfg.Renderer.MinDimension,
		DomainQPS:        cfg.Renderer.DomainQPS,
	}, fetcher, logger)
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	session := roblox.NewSession(httpClient, cfg.Roblox, logger)
	uploader := roblox.NewUploader(httpClient, session, cfg.Roblox, roblox.UploaderConfig{
		MaxAttempts:       cfg.Upload.MaxAttempts,
		RetryWait:         cfg.RetryWait(),
		DefaultRetryAfter: cfg.RateLimitWait(),
	}, logger)

	promSink, err := progress.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		rend.Close()
		return nil, fmt.Errorf("init metrics sink: %w", err)
	}
	snapshots := progress.NewSnapshotSink()
	notifier := progress.NewNotifier(progress.Config{Logger: logger},
		progress.NewLogSink(logger),
		snapshots,
		promSink,
	)

	orch := pipeline.NewOrchestrator(
		rend, fetcher, uploader, session,
		led, asset.Validator{}, notifier,
		clock.System{}, logger,
	)

	return &services{
		orchestrator: orch,
		snapshots:    snapshots,
		renderer:     rend,
		notifier:     notifier,
	}, nil
}

func (s *services) close(logger *zap.Logger) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.notifier.Close(closeCtx); err != nil {
		logger.Warn("progress notifier close failed", zap.Error(err))
	}
	s.renderer.Close()
}
