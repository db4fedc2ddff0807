package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"qryptic/internal/models"
)

// Resolution outcomes.
const (
	OutcomeRedirected = "redirected"
	OutcomeNotFound   = "not_found"
	OutcomeTransient  = "transient"
	OutcomeTimeout    = "timeout"
)

var (
	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qryptic_resolutions_total",
			Help: "Total link resolutions by outcome",
		},
		[]string{"outcome"},
	)

	feedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qryptic_feed_events_total",
			Help: "Total change feed events delivered to subscribers by operation",
		},
		[]string{"operation"},
	)

	feedDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptic_feed_dropped_subscribers_total",
			Help: "Total subscribers dropped because their buffer was full",
		},
	)

	feedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qryptic_feed_subscribers",
			Help: "Current number of change feed subscribers",
		},
	)

	linksDesc = prometheus.NewDesc(
		"qryptic_links",
		"Current number of links in the directory",
		nil,
		nil,
	)

	scansDesc = prometheus.NewDesc(
		"qryptic_scans",
		"Sum of scan counts over all links in the directory",
		nil,
		nil,
	)
)

// StatsSource reports directory totals.
type StatsSource interface {
	Stats(ctx context.Context) (models.DirectoryStats, error)
}

// DirectoryCollector is a custom Prometheus collector that reads directory
// totals from the repository on each scrape.
type DirectoryCollector struct {
	source  StatsSource
	timeout time.Duration
}

// NewDirectoryCollector creates a collector over source.
func NewDirectoryCollector(source StatsSource) *DirectoryCollector {
	return &DirectoryCollector{source: source, timeout: 2 * time.Second}
}

// Describe sends the metric descriptors to the channel.
func (c *DirectoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- linksDesc
	ch <- scansDesc
}

// Collect queries the repository and emits the totals.
func (c *DirectoryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.source.Stats(ctx)
	if err != nil {
		slog.Error("failed to collect directory metrics", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(linksDesc, prometheus.GaugeValue, float64(stats.Links))
	ch <- prometheus.MustNewConstMetric(scansDesc, prometheus.GaugeValue, float64(stats.Scans))
}

var initOnce sync.Once

// Init registers the counters and the directory collector.
// Must be called once at startup.
func Init(source StatsSource) {
	initOnce.Do(func() {
		prometheus.MustRegister(
			resolutions,
			feedEvents,
			feedDropped,
			feedSubscribers,
			NewDirectoryCollector(source),
		)
	})
}

// RecordResolution counts one resolution outcome.
func RecordResolution(outcome string) {
	resolutions.WithLabelValues(outcome).Inc()
}

// RecordFeedEvent counts one event delivered to a subscriber.
func RecordFeedEvent(operation string) {
	feedEvents.WithLabelValues(operation).Inc()
}

// RecordDroppedSubscriber counts one subscriber dropped for falling behind.
func RecordDroppedSubscriber() {
	feedDropped.Inc()
}

// SubscriberAdded raises the subscriber gauge.
func SubscriberAdded() { feedSubscribers.Inc() }

// SubscriberRemoved lowers the subscriber gauge.
func SubscriberRemoved() { feedSubscribers.Dec() }
