// Package progress defines the event stream emitted by pipeline runs and the
// fan-out machinery that delivers it to sinks without ever blocking the run.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageValidating Stage = "VALIDATING"
	StageRendering  Stage = "RENDERING"
	StageProcessing Stage = "PROCESSING"
	StageUploading  Stage = "UPLOADING"
	StageModerated  Stage = "MODERATED"
	StageSourceNext Stage = "SOURCE_NEXT"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event captures a single milestone of a pipeline run.
type Event struct {
	// RunID identifies the run emitting the event.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the milestone type.
	Stage Stage
	// Message is the human-readable notice forwarded to the caller.
	Message string
	// Source optionally names the page URL the event relates to.
	Source string
	// Uploaded, Processed and Target mirror the run counters at emit time.
	Uploaded  int
	Processed int
	Target    int
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageValidating, StageRendering, StageProcessing,
		StageUploading, StageModerated, StageSourceNext, StageRunDone, StageRunError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
