package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"qryptic/internal/models"
)

type fakeStats struct {
	stats models.DirectoryStats
	err   error
}

func (f fakeStats) Stats(context.Context) (models.DirectoryStats, error) {
	return f.stats, f.err
}

func TestDirectoryCollector(t *testing.T) {
	c := NewDirectoryCollector(fakeStats{stats: models.DirectoryStats{Links: 3, Scans: 42}})

	expected := `
# HELP qryptic_links Current number of links in the directory
# TYPE qryptic_links gauge
qryptic_links 3
# HELP qryptic_scans Sum of scan counts over all links in the directory
# TYPE qryptic_scans gauge
qryptic_scans 42
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestDirectoryCollector_Error(t *testing.T) {
	c := NewDirectoryCollector(fakeStats{err: errors.New("db down")})

	if n := testutil.CollectAndCount(c); n != 0 {
		t.Errorf("collected %d metrics on error, want 0", n)
	}
}

func TestRecordResolution(t *testing.T) {
	before := testutil.ToFloat64(resolutions.WithLabelValues(OutcomeNotFound))
	RecordResolution(OutcomeNotFound)
	RecordResolution(OutcomeNotFound)

	if got := testutil.ToFloat64(resolutions.WithLabelValues(OutcomeNotFound)) - before; got != 2 {
		t.Errorf("not_found delta = %v, want 2", got)
	}
}

func TestSubscriberGauge(t *testing.T) {
	before := testutil.ToFloat64(feedSubscribers)
	SubscriberAdded()
	SubscriberAdded()
	SubscriberRemoved()

	if got := testutil.ToFloat64(feedSubscribers) - before; got != 1 {
		t.Errorf("gauge delta = %v, want 1", got)
	}
}
