// Package downloader fetches raw image bytes from candidate URLs.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// ErrPayloadTooLarge indicates the response exceeded the configured cap.
var ErrPayloadTooLarge = errors.New("payload exceeds size cap")

// Config controls the colly-backed downloader.
type Config struct {
	// UserAgent sent with every request.
	UserAgent string
	// Timeout bounds each download (default 10s).
	Timeout time.Duration
	// MaxBytes caps the accepted payload size; larger responses error
	// out instead of being buffered (default 32 MiB).
	MaxBytes int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 32 * 1024 * 1024
	}
}

// CollyFetcher downloads single URLs through a shared colly collector.
type CollyFetcher struct {
	baseCollector *colly.Collector
	cfg           Config
	logger        *zap.Logger
}

// New constructs a configured downloader.
func New(cfg Config, logger *zap.Logger) *CollyFetcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{
		colly.MaxBodySize(cfg.MaxBytes),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.CheckHead = false
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &CollyFetcher{
		baseCollector: base,
		cfg:           cfg,
		logger:        logger,
	}
}

// Fetch downloads rawURL and returns its body. Non-2xx statuses and
// transport errors are returned as errors.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		if cl := r.Headers.Get("Content-Length"); cl != "" {
			if n, parseErr := strconv.ParseInt(cl, 10, 64); parseErr == nil && n > int64(f.cfg.MaxBytes) {
				send(fetchResult{err: fmt.Errorf("%w: content length %d", ErrPayloadTooLarge, n)})
				return
			}
		}
		// MaxBodySize truncates the read silently at the cap, so a body
		// that fills it is oversize, not a complete payload.
		if len(r.Body) >= f.cfg.MaxBytes {
			send(fetchResult{err: ErrPayloadTooLarge})
			return
		}
		send(fetchResult{body: append([]byte{}, r.Body...)})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("download status %d: %w", r.StatusCode, err)
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if res.err != nil {
			return nil, res.err
		}
		return res.body, nil
	default:
		return nil, errors.New("download produced no result")
	}
}

type fetchResult struct {
	body []byte
	err  error
}
