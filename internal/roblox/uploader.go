package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"decalpress/internal/pipeline"
)

// UploaderConfig bounds the publish state machine.
type UploaderConfig struct {
	// MaxAttempts caps submit attempts per publish call (default 15).
	MaxAttempts int
	// RetryWait is the fixed sleep before retrying a generic failure
	// (default 10s).
	RetryWait time.Duration
	// DefaultRetryAfter is used when a 429 carries no Retry-After header
	// (default 10s).
	DefaultRetryAfter time.Duration
}

func (c *UploaderConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 15
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 10 * time.Second
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = 10 * time.Second
	}
}

// TokenSource derives the write token needed to authorize a publish request.
type TokenSource interface {
	FetchWriteToken(ctx context.Context, cookie string) (string, error)
}

// Uploader publishes payloads as platform assets. One Publish call runs the
// full retry, rate-limit and moderation state machine to a terminal outcome.
type Uploader struct {
	client    *http.Client
	tokens    TokenSource
	uploadURL string
	cfg       UploaderConfig
	logger    *zap.Logger

	// sleep is swapped out by tests to observe waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewUploader constructs an Uploader. A nil client gets a 60s-timeout default
// to accommodate large payloads.
func NewUploader(client *http.Client, tokens TokenSource, endpoints Endpoints, cfg UploaderConfig, logger *zap.Logger) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoints.applyDefaults()
	cfg.applyDefaults()
	return &Uploader{
		client:    client,
		tokens:    tokens,
		uploadURL: endpoints.UploadURL,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Publish submits the payload as a "Decal" asset and resolves the outcome.
//
// The write token is derived once per call; a derivation failure is fatal
// immediately since a missing token is not a transient condition. Submits
// then loop up to MaxAttempts: 429 waits out Retry-After and resubmits with
// the same token, a moderation-shaped 403 surfaces Moderated once without
// looping, and every other failure sleeps RetryWait before the next attempt.
func (u *Uploader) Publish(ctx context.Context, req pipeline.PublishRequest) pipeline.Outcome {
	token, err := u.tokens.FetchWriteToken(ctx, req.Cookie)
	if err != nil {
		return pipeline.Outcome{
			Kind: pipeline.OutcomeFatal,
			Err:  fmt.Errorf("derive write token: %w", err),
		}
	}

	var lastErr error
	for attempt := 1; attempt <= u.cfg.MaxAttempts; attempt++ {
		outcome, retryAfter, err := u.submit(ctx, req, token, attempt)
		if err == nil {
			outcome.Attempts = attempt
			return outcome
		}
		lastErr = err

		wait := u.cfg.RetryWait
		if retryAfter > 0 {
			wait = retryAfter
		}
		if attempt == u.cfg.MaxAttempts {
			break
		}
		u.logger.Warn("publish attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", u.cfg.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if sleepErr := u.sleep(ctx, wait); sleepErr != nil {
			return pipeline.Outcome{
				Kind:     pipeline.OutcomeFatal,
				Attempts: attempt,
				Err:      fmt.Errorf("publish canceled: %w", sleepErr),
			}
		}
	}

	TotalUploadFailures.Inc()
	return pipeline.Outcome{
		Kind:     pipeline.OutcomeFatal,
		Attempts: u.cfg.MaxAttempts,
		Err:      fmt.Errorf("publish failed after %d attempts: %w", u.cfg.MaxAttempts, lastErr),
	}
}

// submit performs one upload request. A nil error means a terminal outcome
// was reached; otherwise retryAfter carries the rate-limit wait (zero for
// generic failures).
func (u *Uploader) submit(ctx context.Context, req pipeline.PublishRequest, token string, attempt int) (pipeline.Outcome, time.Duration, error) {
	body, contentType, err := buildUploadBody(req)
	if err != nil {
		return pipeline.Outcome{}, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, body)
	if err != nil {
		return pipeline.Outcome{}, 0, fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set(csrfHeader, token)
	attachCookie(httpReq, req.Cookie)

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return pipeline.Outcome{}, 0, fmt.Errorf("upload request: %w", err)
	}
	defer closeBody(resp, u.logger)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pipeline.Outcome{}, 0, fmt.Errorf("read upload response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		TotalUploads.Inc()
		u.logger.Info("asset published", zap.String("display_name", req.DisplayName), zap.Int("attempt", attempt))
		return pipeline.Outcome{
			Kind:          pipeline.OutcomeSuccess,
			AssetMetadata: respBody,
		}, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		TotalRateLimitHits.Inc()
		wait := u.retryAfter(resp)
		u.logger.Warn("upload rate limited", zap.Duration("retry_after", wait), zap.Int("attempt", attempt))
		return pipeline.Outcome{}, wait, errors.New("rate limited (429)")

	case resp.StatusCode == http.StatusForbidden && isModerated(respBody):
		TotalModerationHits.Inc()
		u.logger.Warn("publisher account is moderated")
		return pipeline.Outcome{Kind: pipeline.OutcomeModerated}, 0, nil

	default:
		return pipeline.Outcome{}, 0, fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
}

func (u *Uploader) retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return u.cfg.DefaultRetryAfter
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return u.cfg.DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

// uploadRequest mirrors the browser payload the platform expects.
type uploadRequest struct {
	DisplayName     string          `json:"displayName"`
	Description     string          `json:"description"`
	AssetType       string          `json:"assetType"`
	CreationContext creationContext `json:"creationContext"`
}

type creationContext struct {
	Creator       creator `json:"creator"`
	ExpectedPrice int     `json:"expectedPrice"`
}

type creator struct {
	UserID int64 `json:"userId"`
}

func buildUploadBody(req pipeline.PublishRequest) (*bytes.Buffer, string, error) {
	payload := uploadRequest{
		DisplayName: req.DisplayName,
		Description: req.Description,
		AssetType:   "Decal",
		CreationContext: creationContext{
			Creator:       creator{UserID: req.CreatorID},
			ExpectedPrice: 0,
		},
	}
	meta, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode upload metadata: %w", err)
	}

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	if err := writer.WriteField("request", string(meta)); err != nil {
		return nil, "", fmt.Errorf("write request field: %w", err)
	}
	filename := req.Filename
	if filename == "" {
		filename = "asset"
	}
	part, err := writer.CreateFormFile("fileContent", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(req.Payload); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize multipart body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

// moderationBody is the error envelope the platform returns on a 403.
type moderationBody struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func isModerated(body []byte) bool {
	var parsed moderationBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	for _, e := range parsed.Errors {
		if strings.Contains(strings.ToLower(e.Message), "user is moderated") {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
