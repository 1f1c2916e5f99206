package observability

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// ModelPricing is USD per 1K tokens for one model family.
type ModelPricing struct {
	PromptPer1K     float64 `json:"prompt_per_1k"`
	CompletionPer1K float64 `json:"completion_per_1k"`
}

// defaultPricing covers the model families the router ships with; unknown
// models fall back to defaultFallback.
var defaultPricing = map[string]ModelPricing{
	"gemini-2.0-flash": {PromptPer1K: 0.0001, CompletionPer1K: 0.0004},
	"gemini-2.5-flash": {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
	"gemini-2.5-pro":   {PromptPer1K: 0.00125, CompletionPer1K: 0.01},
	"gemini-1.5-pro":   {PromptPer1K: 0.00125, CompletionPer1K: 0.005},
}

var defaultFallback = ModelPricing{PromptPer1K: 0.0005, CompletionPer1K: 0.0015}

// CostOptions configures the tracker.
type CostOptions struct {
	Pricing       map[string]ModelPricing // merged over the defaults
	Fallback      *ModelPricing
	DailyBudget   float64 // USD, 0 disables
	MonthlyBudget float64 // USD, 0 disables
}

// CostTracker accumulates LLM and tool spend. It implements llm.UsageSink
// and the tool gateway's cost sink.
type CostTracker struct {
	mu       sync.Mutex
	pricing  map[string]ModelPricing
	fallback ModelPricing

	total       float64
	byDay       map[string]float64
	byMonth     map[string]float64
	byProject   map[string]float64
	byModel     map[string]float64
	byOperation map[string]float64

	dailyBudget   float64
	monthlyBudget float64
	warnedDay     map[string]bool
	warnedMonth   map[string]bool

	now func() time.Time // test seam
}

// NewCostTracker builds a tracker with the default pricing table merged
// under any caller overrides.
func NewCostTracker(opts CostOptions) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultPricing)+len(opts.Pricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	for k, v := range opts.Pricing {
		pricing[strings.ToLower(k)] = v
	}
	fallback := defaultFallback
	if opts.Fallback != nil {
		fallback = *opts.Fallback
	}
	return &CostTracker{
		pricing:       pricing,
		fallback:      fallback,
		byDay:         map[string]float64{},
		byMonth:       map[string]float64{},
		byProject:     map[string]float64{},
		byModel:       map[string]float64{},
		byOperation:   map[string]float64{},
		dailyBudget:   opts.DailyBudget,
		monthlyBudget: opts.MonthlyBudget,
		warnedDay:     map[string]bool{},
		warnedMonth:   map[string]bool{},
		now:           time.Now,
	}
}

// RecordUsage satisfies llm.UsageSink: token counts without a project
// attribution.
func (t *CostTracker) RecordUsage(model, operation string, u llm.Usage) {
	t.RecordProjectUsage("", model, operation, u)
}

// RecordProjectUsage prices one LLM call and attributes it across every
// aggregation dimension.
func (t *CostTracker) RecordProjectUsage(projectID, model, operation string, u llm.Usage) {
	normalized := NormalizeModel(model)
	p := t.priceFor(normalized)
	cost := float64(u.PromptTokens)/1000*p.PromptPer1K +
		float64(u.CompletionTokens)/1000*p.CompletionPer1K

	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(projectID, normalized, operation, cost)
}

// RecordToolCost satisfies the tool gateway's cost sink; tool spend counts
// against the same budgets as LLM spend.
func (t *CostTracker) RecordToolCost(toolName, tenantID string, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(tenantID, "", "tool:"+toolName, cost)
}

func (t *CostTracker) add(projectID, model, operation string, cost float64) {
	if cost <= 0 {
		return
	}
	day := t.now().UTC().Format("2006-01-02")
	month := day[:7]

	t.total += cost
	t.byDay[day] += cost
	t.byMonth[month] += cost
	if projectID != "" {
		t.byProject[projectID] += cost
	}
	if model != "" {
		t.byModel[model] += cost
	}
	if operation != "" {
		t.byOperation[operation] += cost
	}

	log := logging.L(logging.CategoryObservability)
	if t.dailyBudget > 0 && t.byDay[day] > t.dailyBudget && !t.warnedDay[day] {
		t.warnedDay[day] = true
		log.Warn("daily cost budget exceeded",
			zap.String("day", day),
			zap.Float64("spent", t.byDay[day]),
			zap.Float64("budget", t.dailyBudget))
	}
	if t.monthlyBudget > 0 && t.byMonth[month] > t.monthlyBudget && !t.warnedMonth[month] {
		t.warnedMonth[month] = true
		log.Warn("monthly cost budget exceeded",
			zap.String("month", month),
			zap.Float64("spent", t.byMonth[month]),
			zap.Float64("budget", t.monthlyBudget))
	}
}

func (t *CostTracker) priceFor(normalized string) ModelPricing {
	if p, ok := t.pricing[normalized]; ok {
		return p
	}
	return t.fallback
}

// BudgetExceeded reports whether the current day or month is over budget.
func (t *CostTracker) BudgetExceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	day := t.now().UTC().Format("2006-01-02")
	if t.dailyBudget > 0 && t.byDay[day] > t.dailyBudget {
		return true
	}
	return t.monthlyBudget > 0 && t.byMonth[day[:7]] > t.monthlyBudget
}

// CostSnapshot is a copy of the aggregates for reporting.
type CostSnapshot struct {
	Total       float64            `json:"total"`
	ByDay       map[string]float64 `json:"by_day"`
	ByMonth     map[string]float64 `json:"by_month"`
	ByProject   map[string]float64 `json:"by_project"`
	ByModel     map[string]float64 `json:"by_model"`
	ByOperation map[string]float64 `json:"by_operation"`
}

// Snapshot copies the current aggregates.
func (t *CostTracker) Snapshot() CostSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return CostSnapshot{
		Total:       t.total,
		ByDay:       copyFloats(t.byDay),
		ByMonth:     copyFloats(t.byMonth),
		ByProject:   copyFloats(t.byProject),
		ByModel:     copyFloats(t.byModel),
		ByOperation: copyFloats(t.byOperation),
	}
}

// NormalizeModel lowercases and strips date or version suffixes so pricing
// matches model families rather than exact snapshots.
func NormalizeModel(model string) string {
	lower := strings.ToLower(strings.TrimSpace(model))
	keys := make([]string, 0, len(defaultPricing))
	for k := range defaultPricing {
		keys = append(keys, k)
	}
	// longest prefix first so gemini-2.5-pro is not shadowed by gemini-2.5
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(lower, k) {
			return k
		}
	}
	return lower
}

func copyFloats(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
