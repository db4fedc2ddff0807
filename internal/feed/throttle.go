package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"qryptic/internal/directory"
	"qryptic/internal/models"
)

// DefaultScanQueue is the number of scan events that may wait for publishing.
const DefaultScanQueue = 256

// ScanThrottle pushes scan count changes onto the feed at a bounded rate per
// link. Scans over the limit are not pushed; the authoritative count is
// always available from the directory. Publishing happens on a background
// worker, so Offer never waits on the publisher.
type ScanThrottle struct {
	mu           sync.Mutex
	entries      map[string]*throttleEntry
	pub          directory.Publisher
	limit        rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	queueSize    int
	publishWait  time.Duration
	logger       *slog.Logger

	queue     chan models.Event
	done      chan struct{}
	closeOnce sync.Once
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ThrottleOption configures a ScanThrottle.
type ThrottleOption func(*ScanThrottle)

// WithIdleTTL sets how long an unused per-link limiter is kept.
func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(t *ScanThrottle) { t.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval.
func WithCleanupEvery(d time.Duration) ThrottleOption {
	return func(t *ScanThrottle) { t.cleanupEvery = d }
}

// WithQueueSize sets how many scan events may wait for the publisher.
// Events offered while the queue is full are dropped.
func WithQueueSize(n int) ThrottleOption {
	return func(t *ScanThrottle) { t.queueSize = n }
}

// WithPublishTimeout bounds each background publish.
func WithPublishTimeout(d time.Duration) ThrottleOption {
	return func(t *ScanThrottle) { t.publishWait = d }
}

// WithThrottleLogger sets the logger used for publish failures.
func WithThrottleLogger(logger *slog.Logger) ThrottleOption {
	return func(t *ScanThrottle) { t.logger = logger }
}

// NewScanThrottle allows perSecond scanned events per link with the given burst
// and starts the publishing worker. A non-positive perSecond disables scan
// pushes entirely. Call Close to stop the worker.
func NewScanThrottle(pub directory.Publisher, perSecond float64, burst int, opts ...ThrottleOption) *ScanThrottle {
	if burst <= 0 {
		burst = 1
	}
	t := &ScanThrottle{
		entries:      make(map[string]*throttleEntry),
		pub:          pub,
		limit:        rate.Limit(perSecond),
		burst:        burst,
		idleTTL:      10 * time.Minute,
		cleanupEvery: time.Minute,
		queueSize:    DefaultScanQueue,
		publishWait:  5 * time.Second,
		logger:       slog.Default(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.queueSize <= 0 {
		t.queueSize = DefaultScanQueue
	}
	t.queue = make(chan models.Event, t.queueSize)
	go t.run()
	return t
}

// Offer queues a scanned event for link if its limiter allows one now. It
// never blocks: when the queue is full the event is dropped.
func (t *ScanThrottle) Offer(_ context.Context, link models.Link) {
	if t.limit <= 0 {
		return
	}
	if !t.limiter(link.ID.String()).Allow() {
		return
	}
	select {
	case t.queue <- models.Event{Operation: models.OpScanned, Record: link}:
	default:
		t.logger.Debug("scan event queue full, dropping", "link_id", link.ID)
	}
}

// Close stops the publishing worker. Queued events are discarded.
func (t *ScanThrottle) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *ScanThrottle) run() {
	for {
		select {
		case <-t.done:
			return
		case event := <-t.queue:
			t.publish(event)
		}
	}
}

func (t *ScanThrottle) publish(event models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), t.publishWait)
	defer cancel()
	if err := t.pub.Publish(ctx, event); err != nil {
		t.logger.Warn("failed to publish scan event", "link_id", event.Record.ID, "error", err)
	}
}

func (t *ScanThrottle) limiter(key string) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ent, ok := t.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(t.limit, t.burst)
	t.entries[key] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup forgets limiters idle for longer than the idle TTL.
func (t *ScanThrottle) Cleanup() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

// Len returns the number of tracked links.
func (t *ScanThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// StartJanitor runs Cleanup periodically until ctx is done.
func (t *ScanThrottle) StartJanitor(ctx context.Context) {
	if t.cleanupEvery <= 0 {
		return
	}

	ticker := time.NewTicker(t.cleanupEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Cleanup()
			}
		}
	}()
}
