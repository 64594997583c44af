package progress

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the latest observed state of a run, served by the status API.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Uploaded  int       `json:"uploaded"`
	Processed int       `json:"processed"`
	Target    int       `json:"target"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotSink retains the most recent event per run so the HTTP surface can
// answer "what is the pipeline doing right now" without touching the run.
type SnapshotSink struct {
	mu     sync.RWMutex
	latest Snapshot
	seen   bool
}

// NewSnapshotSink constructs an empty SnapshotSink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// Consume records the event as the latest snapshot.
func (s *SnapshotSink) Consume(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = Snapshot{
		RunID:     evt.RunID.String(),
		Stage:     string(evt.Stage),
		Message:   evt.Message,
		Uploaded:  evt.Uploaded,
		Processed: evt.Processed,
		Target:    evt.Target,
		UpdatedAt: evt.TS,
	}
	s.seen = true
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}

// Latest returns the most recent snapshot and whether any event has arrived.
func (s *SnapshotSink) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.seen
}
