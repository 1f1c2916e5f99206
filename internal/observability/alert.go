package observability

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// Comparison is the rule operator.
type Comparison string

const (
	Below Comparison = "below"
	Above Comparison = "above"
)

// Metric names the alert service evaluates.
const (
	MetricSuccessRate    = "success_rate"
	MetricLatencyP95     = "latency_p95_ms"
	MetricErrorCount     = "error_count"
	MetricCorrectionRate = "correction_rate"
	MetricQualityScore   = "quality_score"
	MetricBudgetExceeded = "budget_exceeded"
)

// Rule is one alert condition with its dedup cooldown.
type Rule struct {
	Name       string        `json:"name"`
	Metric     string        `json:"metric"`
	Comparison Comparison    `json:"comparison"`
	Threshold  float64       `json:"threshold"`
	Window     time.Duration `json:"window,omitempty"`
	Cooldown   time.Duration `json:"cooldown"`
}

// Alert is one fired rule.
type Alert struct {
	Rule      string    `json:"rule"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	FiredAt   time.Time `json:"fired_at"`
	Message   string    `json:"message"`
}

// Handler receives fired alerts. Handler panics are contained.
type Handler func(Alert)

const defaultCooldown = 5 * time.Minute

// DefaultRules are the shipped alert conditions.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "low-success-rate", Metric: MetricSuccessRate, Comparison: Below, Threshold: 0.7, Cooldown: defaultCooldown},
		{Name: "high-latency", Metric: MetricLatencyP95, Comparison: Above, Threshold: 5000, Cooldown: defaultCooldown},
		{Name: "error-spike", Metric: MetricErrorCount, Comparison: Above, Threshold: 10, Window: 5 * time.Minute, Cooldown: defaultCooldown},
		{Name: "high-correction-rate", Metric: MetricCorrectionRate, Comparison: Above, Threshold: 0.5, Cooldown: defaultCooldown},
		{Name: "low-quality-score", Metric: MetricQualityScore, Comparison: Below, Threshold: 60, Cooldown: defaultCooldown},
		{Name: "budget-exceeded", Metric: MetricBudgetExceeded, Comparison: Above, Threshold: 0, Cooldown: time.Hour},
	}
}

// AlertService evaluates rules against metric updates with cooldown dedup.
type AlertService struct {
	mu        sync.Mutex
	rules     []Rule
	lastFired map[string]time.Time
	handlers  []Handler
	now       func() time.Time // test seam
}

// NewAlertService builds a service; no rules means DefaultRules.
func NewAlertService(rules ...Rule) *AlertService {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	for i := range rules {
		if rules[i].Cooldown <= 0 {
			rules[i].Cooldown = defaultCooldown
		}
	}
	return &AlertService{
		rules:     rules,
		lastFired: map[string]time.Time{},
		now:       time.Now,
	}
}

// OnAlert registers a handler for fired alerts.
func (s *AlertService) OnAlert(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Evaluate checks every rule watching the metric. A rule in cooldown stays
// silent even when its condition holds.
func (s *AlertService) Evaluate(metric string, value float64) []Alert {
	s.mu.Lock()
	now := s.now()
	var fired []Alert
	var handlers []Handler
	for _, r := range s.rules {
		if r.Metric != metric || !r.matches(value) {
			continue
		}
		if last, ok := s.lastFired[r.Name]; ok && now.Sub(last) < r.Cooldown {
			continue
		}
		s.lastFired[r.Name] = now
		fired = append(fired, Alert{
			Rule:      r.Name,
			Metric:    metric,
			Value:     value,
			Threshold: r.Threshold,
			FiredAt:   now,
			Message:   fmt.Sprintf("%s: %s is %.2f, threshold %.2f", r.Name, metric, value, r.Threshold),
		})
	}
	handlers = append(handlers, s.handlers...)
	s.mu.Unlock()

	log := logging.L(logging.CategoryObservability)
	for _, a := range fired {
		log.Warn("alert fired",
			zap.String("rule", a.Rule),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold))
		for _, h := range handlers {
			notifySafely(h, a)
		}
	}
	return fired
}

// EvaluateStats feeds one metrics snapshot through every stats-derived rule.
// errorCount is the failure count within the error-spike window; the caller
// reads it from Collector.ErrorsSince.
func (s *AlertService) EvaluateStats(stats Stats, errorCount int, budgetExceeded bool) []Alert {
	var fired []Alert
	if stats.Count > 0 {
		fired = append(fired, s.Evaluate(MetricSuccessRate, stats.SuccessRate)...)
		fired = append(fired, s.Evaluate(MetricLatencyP95, float64(stats.LatencyP95))...)
		fired = append(fired, s.Evaluate(MetricCorrectionRate, stats.CorrectionRate)...)
		fired = append(fired, s.Evaluate(MetricQualityScore, stats.QualityScore)...)
	}
	fired = append(fired, s.Evaluate(MetricErrorCount, float64(errorCount))...)
	if budgetExceeded {
		fired = append(fired, s.Evaluate(MetricBudgetExceeded, 1)...)
	}
	return fired
}

func (r Rule) matches(value float64) bool {
	switch r.Comparison {
	case Below:
		return value < r.Threshold
	default:
		return value > r.Threshold
	}
}

func notifySafely(h Handler, a Alert) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.L(logging.CategoryObservability).Warn("alert handler panicked",
				zap.Any("panic", rec))
		}
	}()
	h(a)
}
