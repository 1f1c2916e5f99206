package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
)

func fixedClock(t *CostTracker, at time.Time) {
	t.now = func() time.Time { return at }
}

func TestCostTrackerPricesByModel(t *testing.T) {
	tracker := NewCostTracker(CostOptions{})
	tracker.RecordUsage("gemini-2.0-flash", "intent", llm.Usage{PromptTokens: 10000, CompletionTokens: 1000})

	snap := tracker.Snapshot()
	// 10 * 0.0001 + 1 * 0.0004
	assert.InDelta(t, 0.0014, snap.Total, 1e-9)
	assert.InDelta(t, 0.0014, snap.ByModel["gemini-2.0-flash"], 1e-9)
	assert.InDelta(t, 0.0014, snap.ByOperation["intent"], 1e-9)
}

func TestCostTrackerNormalizesVersionedModels(t *testing.T) {
	tracker := NewCostTracker(CostOptions{})
	tracker.RecordUsage("Gemini-2.0-Flash-001", "generate", llm.Usage{PromptTokens: 10000, CompletionTokens: 1000})

	snap := tracker.Snapshot()
	assert.InDelta(t, 0.0014, snap.ByModel["gemini-2.0-flash"], 1e-9)
}

func TestNormalizeModel(t *testing.T) {
	assert.Equal(t, "gemini-2.5-pro", NormalizeModel("gemini-2.5-pro-exp-0827"))
	assert.Equal(t, "gemini-2.5-flash", NormalizeModel("GEMINI-2.5-FLASH"))
	assert.Equal(t, "unknown-model", NormalizeModel("unknown-model"))
}

func TestCostTrackerFallbackPricing(t *testing.T) {
	tracker := NewCostTracker(CostOptions{})
	tracker.RecordUsage("some-future-model", "generate", llm.Usage{PromptTokens: 1000, CompletionTokens: 1000})

	// 1 * 0.0005 + 1 * 0.0015
	assert.InDelta(t, 0.002, tracker.Snapshot().Total, 1e-9)
}

func TestCostTrackerAggregationDimensions(t *testing.T) {
	tracker := NewCostTracker(CostOptions{})
	at := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	fixedClock(tracker, at)

	tracker.RecordProjectUsage("P1", "gemini-2.0-flash", "intent", llm.Usage{PromptTokens: 10000, CompletionTokens: 1000})
	tracker.RecordProjectUsage("P2", "gemini-2.0-flash", "generate", llm.Usage{PromptTokens: 10000, CompletionTokens: 1000})

	snap := tracker.Snapshot()
	assert.InDelta(t, 0.0028, snap.Total, 1e-9)
	assert.InDelta(t, 0.0014, snap.ByProject["P1"], 1e-9)
	assert.InDelta(t, 0.0014, snap.ByProject["P2"], 1e-9)
	assert.InDelta(t, 0.0028, snap.ByDay["2026-08-30"], 1e-9)
	assert.InDelta(t, 0.0028, snap.ByMonth["2026-08"], 1e-9)
}

func TestCostTrackerToolSpend(t *testing.T) {
	tracker := NewCostTracker(CostOptions{DailyBudget: 0.05})
	tracker.RecordToolCost("search-knowledge", "P1", 0.03)
	tracker.RecordToolCost("generate-report", "P1", 0.03)

	snap := tracker.Snapshot()
	assert.InDelta(t, 0.06, snap.Total, 1e-9)
	assert.InDelta(t, 0.03, snap.ByOperation["tool:search-knowledge"], 1e-9)
	assert.InDelta(t, 0.06, snap.ByProject["P1"], 1e-9)
	assert.True(t, tracker.BudgetExceeded(), "tool spend counts against the budget")
}

func TestCostTrackerIgnoresZeroCost(t *testing.T) {
	tracker := NewCostTracker(CostOptions{})
	tracker.RecordToolCost("validate-policy", "P1", 0)
	tracker.RecordUsage("gemini-2.0-flash", "intent", llm.Usage{})

	assert.Zero(t, tracker.Snapshot().Total)
}

func TestBudgetExceeded(t *testing.T) {
	tracker := NewCostTracker(CostOptions{DailyBudget: 0.001})
	assert.False(t, tracker.BudgetExceeded())

	tracker.RecordUsage("gemini-2.0-flash", "intent", llm.Usage{PromptTokens: 10000, CompletionTokens: 1000})
	assert.True(t, tracker.BudgetExceeded())
	assert.True(t, tracker.warnedDay[tracker.now().UTC().Format("2006-01-02")], "warning fires once per day")
}

func TestBudgetResetsWithClock(t *testing.T) {
	tracker := NewCostTracker(CostOptions{DailyBudget: 0.001})
	fixedClock(tracker, time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC))
	tracker.RecordUsage("gemini-2.0-flash", "intent", llm.Usage{PromptTokens: 10000, CompletionTokens: 1000})
	assert.True(t, tracker.BudgetExceeded())

	fixedClock(tracker, time.Date(2026, 8, 31, 1, 0, 0, 0, time.UTC))
	assert.False(t, tracker.BudgetExceeded(), "a new day starts under budget")
}

func TestCostTrackerPricingOverride(t *testing.T) {
	tracker := NewCostTracker(CostOptions{
		Pricing: map[string]ModelPricing{"house-model": {PromptPer1K: 0.01, CompletionPer1K: 0.02}},
	})
	tracker.RecordUsage("house-model", "generate", llm.Usage{PromptTokens: 1000, CompletionTokens: 500})

	assert.InDelta(t, 0.02, tracker.Snapshot().Total, 1e-9)
}
