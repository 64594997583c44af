package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering for the Notifier.
//   - BufferSize: size of the internal channel (default 256).
//   - SinkTimeout: per-sink timeout while delivering (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize  int
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 256
	defaultSinkTimeout = 5 * time.Second
	dropLogInterval    = 5 * time.Second
)

// Notifier fans Events out to registered sinks from a background goroutine.
// Emit never blocks; if the buffer is full the event is dropped and a
// rate-limited warning is logged. The pipeline therefore never waits on
// progress delivery.
type Notifier struct {
	cfg         Config
	sinks       []Sink
	events      chan Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter dropLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewNotifier starts the delivery goroutine over the supplied sinks. The
// returned Notifier is immediately ready to accept events.
func NewNotifier(cfg Config, sinks ...Sink) *Notifier {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: dropLimiter{interval: dropLogInterval},
	}
	go n.run()
	return n
}

// Emit enqueues an Event for delivery. It never blocks the caller.
func (n *Notifier) Emit(evt Event) {
	if n == nil || n.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		n.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case n.events <- evt:
	default:
		n.dropped.Add(1)
		if n.dropLimiter.Allow(time.Now()) {
			count := n.dropped.Swap(0)
			n.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close drains remaining events, closes sinks, and blocks until the delivery
// goroutine exits. Safe to call multiple times.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		n.closeCtx = ctx
		close(n.stopCh)
	})
	select {
	case <-n.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress notifier close wait: %w", ctx.Err())
	}
}

func (n *Notifier) run() {
	defer close(n.doneCh)
	for {
		select {
		case evt := <-n.events:
			n.deliver(evt)
		case <-n.stopCh:
			n.drain()
			n.closeSinks()
			return
		}
	}
}

func (n *Notifier) drain() {
	for {
		select {
		case evt := <-n.events:
			n.deliver(evt)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(evt Event) {
	for _, sink := range n.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(n.cfg.BaseContext, n.cfg.SinkTimeout)
		if err := sink.Consume(ctx, evt); err != nil {
			n.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (n *Notifier) closeSinks() {
	ctx := n.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range n.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			n.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

type dropLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *dropLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
