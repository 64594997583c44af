// Package main hosts the decalpress entrypoint.
//
// Architecture overview:
//   - Pipeline: internal/pipeline.Orchestrator drives one run end to end:
//     credential validation, headless rendering of a source page, image
//     download, validation, and decal upload, advancing through the source
//     pool until the per-run target is met.
//   - Rendering: internal/renderer drives headless Chrome via chromedp,
//     scrolling pages to trigger lazy loading and extracting candidate
//     images with their natural dimensions. A cheap Colly probe rejects
//     unreachable hosts before a browser tab is spent on them.
//   - Platform client: internal/roblox validates the account cookie,
//     harvests the CSRF token, and runs the upload retry state machine
//     (rate-limit waits, moderation detection, bounded attempts).
//   - Dedupe: internal/ledger persists processed image URLs as a JSON array
//     with atomic rewrite, so interrupted runs never corrupt history.
//   - Observability: internal/progress fans run milestones out to zap logs,
//     Prometheus counters, and an in-memory snapshot served by the chi
//     status API (/healthz, /metrics, /v1/runs/latest).
//   - Configuration: Viper populates config from files and DECALPRESS_* env
//     vars. The account cookie is taken only from a flag or environment and
//     is never written to config, logs, or disk.
//
// Run locally: go run ./cmd/decalpress scrape --config config.yaml
package main

import (
	"fmt"
	"os"

	"decalpress/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
