package observability

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindowSize bounds the rolling metrics window.
const DefaultWindowSize = 1000

// QueryMetrics is one answered request as the collector sees it.
type QueryMetrics struct {
	Timestamp          time.Time `json:"timestamp"`
	Intent             string    `json:"intent,omitempty"`
	Success            bool      `json:"success"`
	DurationMS         int64     `json:"duration_ms"`
	ErrorType          string    `json:"error_type,omitempty"`
	CorrectionAttempts int       `json:"correction_attempts"`
	Confidence         float64   `json:"confidence"`
	PromptTokens       int       `json:"prompt_tokens"`
	CompletionTokens   int       `json:"completion_tokens"`
}

// Stats is a point-in-time aggregate over the window.
type Stats struct {
	Count            int            `json:"count"`
	SuccessRate      float64        `json:"success_rate"`
	LatencyP50       int64          `json:"latency_p50_ms"`
	LatencyP90       int64          `json:"latency_p90_ms"`
	LatencyP95       int64          `json:"latency_p95_ms"`
	LatencyP99       int64          `json:"latency_p99_ms"`
	ErrorTypes       map[string]int `json:"error_types"`
	Intents          map[string]int `json:"intents"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	AvgConfidence    float64        `json:"avg_confidence"`
	CorrectionRate   float64        `json:"correction_rate"`
	QualityScore     float64        `json:"quality_score"`
}

// Collector keeps a bounded rolling window of query records. All methods are
// safe for concurrent use.
type Collector struct {
	mu     sync.RWMutex
	window []QueryMetrics
	next   int
	full   bool
	size   int
	now    func() time.Time
}

// NewCollector builds a collector; size <= 0 uses DefaultWindowSize.
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Collector{window: make([]QueryMetrics, size), size: size, now: time.Now}
}

// Record adds one request to the window, evicting the oldest when full.
func (c *Collector) Record(m QueryMetrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window[c.next] = m
	c.next = (c.next + 1) % c.size
	if c.next == 0 {
		c.full = true
	}
}

func (c *Collector) records() []QueryMetrics {
	n := c.next
	if c.full {
		n = c.size
	}
	out := make([]QueryMetrics, n)
	copy(out, c.window[:n])
	return out
}

// ErrorsSince counts failed requests recorded within the duration.
func (c *Collector) ErrorsSince(d time.Duration) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := c.now().Add(-d)
	count := 0
	for _, m := range c.records() {
		if !m.Success && m.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// Stats aggregates the current window.
func (c *Collector) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	recs := c.records()
	stats := Stats{
		Count:      len(recs),
		ErrorTypes: map[string]int{},
		Intents:    map[string]int{},
	}
	if len(recs) == 0 {
		return stats
	}

	durations := make([]int64, 0, len(recs))
	successes := 0
	corrected := 0
	confSum := 0.0
	for _, m := range recs {
		durations = append(durations, m.DurationMS)
		if m.Success {
			successes++
		} else if m.ErrorType != "" {
			stats.ErrorTypes[m.ErrorType]++
		}
		if m.CorrectionAttempts > 0 {
			corrected++
		}
		if m.Intent != "" {
			stats.Intents[m.Intent]++
		}
		confSum += m.Confidence
		stats.PromptTokens += m.PromptTokens
		stats.CompletionTokens += m.CompletionTokens
	}
	stats.TotalTokens = stats.PromptTokens + stats.CompletionTokens

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	stats.LatencyP50 = percentile(durations, 0.50)
	stats.LatencyP90 = percentile(durations, 0.90)
	stats.LatencyP95 = percentile(durations, 0.95)
	stats.LatencyP99 = percentile(durations, 0.99)

	n := float64(len(recs))
	stats.SuccessRate = float64(successes) / n
	stats.CorrectionRate = float64(corrected) / n
	stats.AvgConfidence = confSum / n
	stats.QualityScore = qualityScore(stats)
	return stats
}

// percentile uses the nearest-rank method over an ascending slice.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted)) + 0.5)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// qualityScore folds the window into a 0-100 composite: success rate 40%,
// correction penalty 20%, latency band 20%, average confidence 20%.
func qualityScore(s Stats) float64 {
	success := s.SuccessRate * 100
	correction := (1 - s.CorrectionRate) * 100
	confidence := s.AvgConfidence * 100
	return success*0.4 + correction*0.2 + latencyBand(s.LatencyP95)*0.2 + confidence*0.2
}

// latencyBand maps the p95 latency onto a 0-100 band.
func latencyBand(p95 int64) float64 {
	switch {
	case p95 <= 500:
		return 100
	case p95 <= 1000:
		return 90
	case p95 <= 2000:
		return 75
	case p95 <= 5000:
		return 50
	case p95 <= 10000:
		return 25
	default:
		return 10
	}
}
