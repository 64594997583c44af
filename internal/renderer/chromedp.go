// Package renderer loads pages in a headless browser and extracts image
// candidates from the post-JavaScript DOM.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"decalpress/internal/pipeline"
)

// Sentinel errors distinguishing the fail-fast probe from the browser phase.
var (
	// ErrPageFetch indicates the pre-render document probe failed.
	ErrPageFetch = errors.New("page fetch failed")
	// ErrPageRender indicates the scripted browsing context failed.
	ErrPageRender = errors.New("page render failed")
)

// consentSelector is the overlay dismiss control attempted before scrolling.
const consentSelector = ".button-agree"

// extractScript enumerates img elements with their rendered dimensions and
// both source attributes. Filtering and URL resolution happen on the Go side.
const extractScript = `Array.from(document.querySelectorAll('img')).map(el => ({
	src: el.getAttribute('src') || '',
	dataSrc: el.getAttribute('data-src') || '',
	width: el.naturalWidth || 0,
	height: el.naturalHeight || 0,
}))`

// Config controls rendering behavior. Scroll iterations and delay are policy
// values for the lazy-load heuristic, deliberately exposed rather than
// hard-coded: the loop bounds best-effort discovery, it does not prove
// completion.
type Config struct {
	UserAgent        string
	NavTimeout       time.Duration
	ConsentTimeout   time.Duration
	ScrollIterations int
	ScrollDelay      time.Duration
	MinDimension     int
	DomainQPS        float64
}

func (c *Config) applyDefaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.ConsentTimeout <= 0 {
		c.ConsentTimeout = 5 * time.Second
	}
	if c.ScrollIterations <= 0 {
		c.ScrollIterations = 10
	}
	if c.ScrollDelay <= 0 {
		c.ScrollDelay = 800 * time.Millisecond
	}
	if c.MinDimension <= 0 {
		c.MinDimension = 20
	}
}

// Prober fetches the raw document before a browser is spent on it, so
// unreachable hosts fail fast and cheap.
type Prober interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// ChromedpRenderer renders pages using headless Chrome via chromedp.
type ChromedpRenderer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	prober          Prober
	cfg             Config
	logger          *zap.Logger
	domainLimiters  sync.Map
}

// New creates a renderer with a warmed-up browser.
func New(cfg Config, prober Prober, logger *zap.Logger) (*ChromedpRenderer, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &ChromedpRenderer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		prober:          prober,
		cfg:             cfg,
		logger:          logger,
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *ChromedpRenderer) Close() {
	if r == nil {
		return
	}
	r.browserCancel()
	r.allocatorCancel()
}

// Render probes the URL, executes the page with JavaScript enabled, triggers
// lazy-loaded content, and returns the discovered image candidates. The tab
// context is cancelled on every exit path.
func (r *ChromedpRenderer) Render(ctx context.Context, pageURL string) ([]pipeline.ImageCandidate, error) {
	if r.prober != nil {
		if _, err := r.prober.Fetch(ctx, pageURL); err != nil {
			TotalRenderFailures.Inc()
			return nil, fmt.Errorf("%w: %w", ErrPageFetch, err)
		}
	}

	if err := r.waitDomainBudget(ctx, pageURL); err != nil {
		return nil, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var raw []rawCandidate
	tasks := chromedp.Tasks{
		network.Enable(),
		r.userAgentAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		r.dismissConsentAction(),
		r.scrollAction(),
		chromedp.Evaluate(extractScript, &raw),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		TotalRenderFailures.Inc()
		return nil, fmt.Errorf("%w: %w", ErrPageRender, err)
	}
	r.logger.Debug("page rendered",
		zap.String("url", pageURL),
		zap.Int("img_elements", len(raw)),
	)

	candidates, err := resolveCandidates(pageURL, raw, r.cfg.MinDimension)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve candidates: %w", ErrPageRender, err)
	}
	TotalPagesRendered.Inc()
	TotalCandidatesFound.Add(float64(len(candidates)))
	return candidates, nil
}

func (r *ChromedpRenderer) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if r.cfg.UserAgent == "" {
			return nil
		}
		return emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx)
	})
}

// dismissConsentAction clicks the consent overlay if one shows up within the
// consent timeout. Absence or a failed click is not an error.
func (r *ChromedpRenderer) dismissConsentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		clickCtx, cancel := context.WithTimeout(ctx, r.cfg.ConsentTimeout)
		defer cancel()
		err := chromedp.Run(clickCtx,
			chromedp.Click(consentSelector, chromedp.ByQuery, chromedp.NodeVisible),
		)
		if err != nil {
			r.logger.Debug("no consent overlay dismissed", zap.Error(err))
			return nil
		}
		r.logger.Debug("consent overlay dismissed")
		return chromedp.Sleep(2 * time.Second).Do(ctx)
	})
}

// scrollAction pages through the document one viewport at a time to trigger
// lazy-loaded images.
func (r *ChromedpRenderer) scrollAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for i := 0; i < r.cfg.ScrollIterations; i++ {
			if err := chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil).Do(ctx); err != nil {
				return fmt.Errorf("scroll iteration %d: %w", i, err)
			}
			if err := chromedp.Sleep(r.cfg.ScrollDelay).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ChromedpRenderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
