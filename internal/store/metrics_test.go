package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolMetrics_TracksAverageAndPeaks(t *testing.T) {
	m := NewPoolMetrics(10)

	for _, d := range []time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond} {
		m.RecordLatency(d)
	}

	summary := m.GetMetricsSummary()
	assert.Equal(t, int64(3), summary.TotalQueries)
	assert.Equal(t, 3, summary.SampleCount)
	assert.Equal(t, 2*time.Millisecond, summary.AvgLatency)
	assert.Equal(t, 1*time.Millisecond, summary.MinLatency)
	assert.Equal(t, 3*time.Millisecond, summary.MaxLatency)
}

func TestPoolMetrics_WindowEvictsOldestSample(t *testing.T) {
	m := NewPoolMetrics(2)

	m.RecordLatency(1 * time.Millisecond)
	m.RecordLatency(2 * time.Millisecond)
	m.RecordLatency(100 * time.Millisecond) // evicts the 1ms sample

	summary := m.GetMetricsSummary()
	assert.Equal(t, 2, summary.SampleCount)
	assert.Equal(t, 2*time.Millisecond, summary.MinLatency)
	assert.Equal(t, 100*time.Millisecond, summary.MaxLatency)
}

func TestPoolMetrics_P95RequiresTwentySamples(t *testing.T) {
	m := NewPoolMetrics(30)
	for i := 0; i < 10; i++ {
		m.RecordLatency(time.Duration(i+1) * time.Millisecond)
	}
	summary := m.GetMetricsSummary()
	assert.Equal(t, time.Duration(0), summary.P95Latency)
}
