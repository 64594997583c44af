// Package pipeline defines the core types shared across the scrape-and-publish
// subsystems and implements the run orchestrator.
package pipeline

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by pipeline components.
var (
	// ErrEmptySourcePool indicates a run was requested with no source URLs.
	ErrEmptySourcePool = errors.New("source pool is empty")
	// ErrInvalidCredential indicates the supplied cookie failed validation.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrTokenUnavailable indicates the write token could not be harvested.
	ErrTokenUnavailable = errors.New("write token unavailable")
)

// ImageCandidate is an image reference discovered on a rendered page. The URL
// is absolute, already resolved against the page URL. Candidates are
// per-render values and never persisted.
type ImageCandidate struct {
	URL    string
	Width  int
	Height int
}

// Identity describes the authenticated publisher returned by credential
// validation. ID is used as the creator in upload requests.
type Identity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// OutcomeKind classifies the result of a single publish call.
type OutcomeKind string

// Publish outcome kinds.
const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeModerated OutcomeKind = "moderated"
	OutcomeFatal     OutcomeKind = "fatal"
)

// Outcome is the terminal result of one publish state machine execution.
// Rate limiting and transient failures are resolved internally by the
// uploader; only the terminal states listed above escape it.
type Outcome struct {
	Kind OutcomeKind
	// AssetMetadata holds the raw platform response on success.
	AssetMetadata []byte
	// Attempts is the number of submit attempts consumed.
	Attempts int
	// Err carries the final failure cause for OutcomeFatal.
	Err error
}

// RunParams carries the caller-supplied inputs for one pipeline run.
type RunParams struct {
	// Cookie is the long-lived platform credential. It is never persisted
	// or logged.
	Cookie string
	// SourcePool lists the pages to scan.
	SourcePool []string
	// TargetCount is the number of uploads to reach before stopping.
	TargetCount int
}

// RunProgress tracks per-run counters. All counters increase monotonically
// within a run; Processed >= Uploaded always holds.
type RunProgress struct {
	Uploaded  int       `json:"uploaded"`
	Processed int       `json:"processed"`
	Target    int       `json:"target"`
	StartedAt time.Time `json:"started_at"`
}
