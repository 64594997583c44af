package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"decalpress/internal/progress"
)

const (
	defaultTargetCount = 5
	maxTargetCount     = 100

	displayNameLength = 8
	descriptionLength = 16
)

// Orchestrator composes the renderer, ledger, validator, downloader and
// uploader into one end-to-end run. It executes strictly sequentially: one
// render, one download, one publish at a time.
type Orchestrator struct {
	renderer  Renderer
	fetcher   ImageFetcher
	uploader  Uploader
	auth      CredentialValidator
	ledger    Ledger
	validator Validator
	emitter   progress.Emitter
	clock     Clock
	logger    *zap.Logger

	// randInt picks the initial source and drives name generation;
	// injectable for deterministic tests.
	randInt func(n int) int
}

// NewOrchestrator wires the pipeline dependencies.
func NewOrchestrator(
	renderer Renderer,
	fetcher ImageFetcher,
	uploader Uploader,
	auth CredentialValidator,
	ledger Ledger,
	validator Validator,
	emitter progress.Emitter,
	clock Clock,
	logger *zap.Logger,
) *Orchestrator {
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		renderer:  renderer,
		fetcher:   fetcher,
		uploader:  uploader,
		auth:      auth,
		ledger:    ledger,
		validator: validator,
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
		randInt:   rand.Intn,
	}
}

// Run executes one ingest-dedupe-publish run. The first source is picked at
// random; later advances walk the remaining pool in order, each source at
// most once. A source whose render fails is treated the same as one with no
// new candidates: the run logs it and advances rather than aborting.
//
// The ledger is flushed before returning on every path that got past
// credential validation, so items uploaded mid-run are recorded even when
// the run is cancelled. An upload that succeeds but crashes before the final
// flush may be re-processed next run; durability is at-least-once.
func (o *Orchestrator) Run(ctx context.Context, params RunParams) (RunProgress, error) {
	if len(params.SourcePool) == 0 {
		return RunProgress{}, ErrEmptySourcePool
	}
	if params.TargetCount < 1 {
		params.TargetCount = defaultTargetCount
	}
	if params.TargetCount > maxTargetCount {
		params.TargetCount = maxTargetCount
	}

	runID := uuid.New()
	prog := RunProgress{
		Target:    params.TargetCount,
		StartedAt: o.now(),
	}
	o.emit(runID, prog, progress.StageRunStart, "starting run", "")

	o.emit(runID, prog, progress.StageValidating, "validating credential (0%)", "")
	identity, err := o.auth.ValidateCookie(ctx, params.Cookie)
	if err != nil {
		o.emit(runID, prog, progress.StageRunError, "credential validation failed", "")
		return prog, fmt.Errorf("validate credential: %w", err)
	}

	order := o.sourceOrder(len(params.SourcePool))
pool:
	for _, idx := range order {
		if ctx.Err() != nil {
			break
		}
		src := params.SourcePool[idx]

		o.emit(runID, prog, progress.StageRendering, "rendering page (30%)", src)
		candidates, err := o.renderer.Render(ctx, src)
		if err != nil {
			o.logger.Warn("render failed, advancing source pool",
				zap.String("source", src),
				zap.Error(err),
			)
			o.emit(runID, prog, progress.StageSourceNext, "source unavailable, trying next", src)
			continue
		}

		fresh := o.filterSeen(candidates)
		o.logger.Debug("candidates discovered",
			zap.String("source", src),
			zap.Int("total", len(candidates)),
			zap.Int("new", len(fresh)),
		)
		if len(fresh) == 0 {
			o.emit(runID, prog, progress.StageSourceNext, "no new images, trying next source", src)
			continue
		}

		for _, cand := range fresh {
			if ctx.Err() != nil {
				break pool
			}
			o.processCandidate(ctx, runID, &prog, identity, params.Cookie, cand)
			if prog.Uploaded >= prog.Target {
				break pool
			}
		}
	}

	if err := o.ledger.Flush(); err != nil {
		o.emit(runID, prog, progress.StageRunError, "failed to persist ledger", "")
		return prog, fmt.Errorf("flush ledger: %w", err)
	}

	summary := fmt.Sprintf("uploaded %d new images (processed %d)", prog.Uploaded, prog.Processed)
	o.emit(runID, prog, progress.StageRunDone, summary, "")
	return prog, ctx.Err()
}

// processCandidate downloads, validates and publishes one candidate. Every
// per-item failure is swallowed here: the run only ever stops early for
// credential or pool-level conditions.
func (o *Orchestrator) processCandidate(ctx context.Context, runID uuid.UUID, prog *RunProgress, identity Identity, cookie string, cand ImageCandidate) {
	o.emit(runID, *prog, progress.StageProcessing,
		fmt.Sprintf("processing %d/%d", prog.Processed+1, prog.Target), cand.URL)

	data, err := o.fetcher.Fetch(ctx, cand.URL)
	if err != nil {
		// A dead link stays dead; record it so future runs skip it.
		o.logger.Debug("download failed", zap.String("url", cand.URL), zap.Error(err))
		o.ledger.Add(cand.URL)
		prog.Processed++
		return
	}

	if err := o.validator.Validate(len(data), cand.URL); err != nil {
		o.logger.Debug("candidate rejected", zap.String("url", cand.URL), zap.Error(err))
		o.ledger.Add(cand.URL)
		return
	}

	o.emit(runID, *prog, progress.StageUploading,
		fmt.Sprintf("uploading %d/%d", prog.Processed+1, prog.Target), cand.URL)

	outcome := o.uploader.Publish(ctx, PublishRequest{
		Payload:     data,
		DisplayName: o.randomString(displayNameLength),
		Description: o.randomString(descriptionLength),
		Cookie:      cookie,
		CreatorID:   identity.ID,
		Filename:    payloadFilename(cand.URL),
	})
	switch outcome.Kind {
	case OutcomeSuccess:
		prog.Uploaded++
		prog.Processed++
		o.ledger.Add(cand.URL)
	case OutcomeModerated:
		// Account-level, not item-level: leave the item unrecorded so a
		// future run retries it once the account is reactivated.
		o.emit(runID, *prog, progress.StageModerated,
			"account is moderated; item will be retried on a future run", cand.URL)
	default:
		o.logger.Debug("upload failed",
			zap.String("url", cand.URL),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err),
		)
		o.ledger.Add(cand.URL)
		prog.Processed++
	}
}

// sourceOrder yields pool indices: a random first pick, then the remaining
// indices in pool order.
func (o *Orchestrator) sourceOrder(n int) []int {
	first := o.randInt(n)
	order := make([]int, 0, n)
	order = append(order, first)
	for i := 0; i < n; i++ {
		if i != first {
			order = append(order, i)
		}
	}
	return order
}

func (o *Orchestrator) filterSeen(candidates []ImageCandidate) []ImageCandidate {
	fresh := make([]ImageCandidate, 0, len(candidates))
	for _, c := range candidates {
		if o.ledger.Contains(c.URL) {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh
}

func (o *Orchestrator) emit(runID uuid.UUID, prog RunProgress, stage progress.Stage, message, source string) {
	o.emitter.Emit(progress.Event{
		RunID:     runID,
		TS:        o.now(),
		Stage:     stage,
		Message:   message,
		Source:    source,
		Uploaded:  prog.Uploaded,
		Processed: prog.Processed,
		Target:    prog.Target,
	})
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock.Now()
	}
	return time.Now().UTC()
}

const nameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func (o *Orchestrator) randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = nameAlphabet[o.randInt(len(nameAlphabet))]
	}
	return string(b)
}

// payloadFilename derives the multipart filename from the candidate URL.
func payloadFilename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "asset.png"
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" || strings.TrimSpace(base) == "" {
		return "asset.png"
	}
	return base
}
