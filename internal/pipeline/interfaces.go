package pipeline

import (
	"context"
	"time"
)

// Renderer loads a page in a scriptable browsing context and extracts image
// candidates with absolute URLs.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]ImageCandidate, error)
}

// ImageFetcher downloads the raw bytes of a single image URL under a bounded
// timeout.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Uploader publishes one validated payload as a platform asset, running the
// retry and moderation state machine to a terminal outcome.
type Uploader interface {
	Publish(ctx context.Context, req PublishRequest) Outcome
}

// PublishRequest carries everything the uploader needs for one asset.
type PublishRequest struct {
	Payload     []byte
	DisplayName string
	Description string
	Cookie      string
	CreatorID   int64
	// Filename is the multipart file part name, derived from the source URL.
	Filename string
}

// CredentialValidator checks the long-lived credential against the platform's
// identity endpoint.
type CredentialValidator interface {
	ValidateCookie(ctx context.Context, cookie string) (Identity, error)
}

// Ledger is the durable set of already-processed identifiers. Membership is
// the sole deduplication authority across runs.
type Ledger interface {
	Contains(id string) bool
	Add(id string)
	Flush() error
}

// Validator accepts or rejects a downloaded payload before upload.
type Validator interface {
	Validate(byteLength int, rawURL string) error
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
