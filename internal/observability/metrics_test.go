package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorStats(t *testing.T) {
	c := NewCollector(100)
	c.Record(QueryMetrics{Success: true, DurationMS: 100, Intent: "QUERY_RELATIONAL", Confidence: 0.9, PromptTokens: 100, CompletionTokens: 20})
	c.Record(QueryMetrics{Success: true, DurationMS: 200, Intent: "QUERY_RELATIONAL", Confidence: 0.8, CorrectionAttempts: 1})
	c.Record(QueryMetrics{Success: true, DurationMS: 300, Intent: "QUERY_GRAPH", Confidence: 0.7})
	c.Record(QueryMetrics{Success: false, DurationMS: 400, ErrorType: "TOOL_ERROR", Confidence: 0.2})

	stats := c.Stats()

	assert.Equal(t, 4, stats.Count)
	assert.InDelta(t, 0.75, stats.SuccessRate, 0.001)
	assert.Equal(t, int64(200), stats.LatencyP50)
	assert.Equal(t, int64(400), stats.LatencyP95)
	assert.Equal(t, int64(400), stats.LatencyP99)
	assert.Equal(t, 2, stats.Intents["QUERY_RELATIONAL"])
	assert.Equal(t, 1, stats.ErrorTypes["TOOL_ERROR"])
	assert.Equal(t, 100, stats.PromptTokens)
	assert.Equal(t, 120, stats.TotalTokens)
	assert.InDelta(t, 0.65, stats.AvgConfidence, 0.001)
	assert.InDelta(t, 0.25, stats.CorrectionRate, 0.001)
}

func TestCollectorEmptyWindow(t *testing.T) {
	stats := NewCollector(10).Stats()
	assert.Equal(t, 0, stats.Count)
	assert.Zero(t, stats.SuccessRate)
	assert.Zero(t, stats.LatencyP99)
}

func TestCollectorWindowEvictsOldest(t *testing.T) {
	c := NewCollector(3)
	for i := 0; i < 5; i++ {
		c.Record(QueryMetrics{Success: i >= 2, DurationMS: int64(i)})
	}

	stats := c.Stats()
	assert.Equal(t, 3, stats.Count, "window is bounded")
	assert.InDelta(t, 1.0, stats.SuccessRate, 0.001, "only the three newest records remain")
}

func TestCollectorErrorsSince(t *testing.T) {
	c := NewCollector(10)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Record(QueryMetrics{Success: false, Timestamp: base.Add(-10 * time.Minute)})
	c.Record(QueryMetrics{Success: false, Timestamp: base.Add(-2 * time.Minute)})
	c.Record(QueryMetrics{Success: true, Timestamp: base.Add(-1 * time.Minute)})
	c.Record(QueryMetrics{Success: false, Timestamp: base.Add(-30 * time.Second)})

	assert.Equal(t, 2, c.ErrorsSince(5*time.Minute))
	assert.Equal(t, 3, c.ErrorsSince(time.Hour))
}

func TestQualityScoreHealthyWindow(t *testing.T) {
	c := NewCollector(10)
	for i := 0; i < 4; i++ {
		c.Record(QueryMetrics{Success: true, DurationMS: 100, Confidence: 1.0})
	}

	stats := c.Stats()
	assert.InDelta(t, 100, stats.QualityScore, 0.001)
}

func TestQualityScoreDegradedWindow(t *testing.T) {
	c := NewCollector(10)
	c.Record(QueryMetrics{Success: true, DurationMS: 6000, Confidence: 0.5, CorrectionAttempts: 2})
	c.Record(QueryMetrics{Success: false, DurationMS: 6000, Confidence: 0.5, ErrorType: "TOOL_ERROR"})

	stats := c.Stats()
	// success 50*0.4 + corrections 50*0.2 + latency band 25*0.2 + confidence 50*0.2
	assert.InDelta(t, 45, stats.QualityScore, 0.001)
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, int64(50), percentile(sorted, 0.50))
	assert.Equal(t, int64(90), percentile(sorted, 0.90))
	assert.Equal(t, int64(100), percentile(sorted, 0.99))
	assert.Equal(t, int64(0), percentile(nil, 0.5))
}

func TestCollectorConcurrentRecord(t *testing.T) {
	c := NewCollector(50)
	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				c.Record(QueryMetrics{Success: true, DurationMS: 10})
				_ = c.Stats()
			}
		}()
	}
	for g := 0; g < 4; g++ {
		<-done
	}
	require.Equal(t, 50, c.Stats().Count)
}
