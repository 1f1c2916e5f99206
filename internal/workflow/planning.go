package workflow

import (
	"fmt"
	"sort"
)

// BacklogItem is one candidate for sprint scoping.
type BacklogItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title,omitempty"`
	Points      float64 `json:"points"`
	Priority    int     `json:"priority"` // higher is more important
	RiskScore   float64 `json:"risk_score"`
	MustInclude bool    `json:"must_include"`
}

// SprintPlan is the scope optimisation result.
type SprintPlan struct {
	Selected      []string `json:"selected"`
	Deferred      []string `json:"deferred"`
	PointsPlanned float64  `json:"points_planned"`
	Capacity      float64  `json:"capacity"`
	RiskScore     float64  `json:"risk_score"`
	Notes         []string `json:"notes,omitempty"`
}

// PlanSprint packs backlog items under capacity. Must-include items go first
// together with their unfinished predecessors; remaining capacity fills by
// priority, preferring lower risk, and an item is only eligible once all its
// predecessors are selected.
func PlanSprint(backlog []BacklogItem, deps map[string][]string, capacity float64) (*SprintPlan, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	byID := make(map[string]BacklogItem, len(backlog))
	for _, item := range backlog {
		if _, dup := byID[item.ID]; dup {
			return nil, fmt.Errorf("duplicate backlog id %q", item.ID)
		}
		byID[item.ID] = item
	}

	plan := &SprintPlan{Capacity: capacity}
	selected := map[string]bool{}

	var take func(id string) bool
	take = func(id string) bool {
		if selected[id] {
			return true
		}
		item, ok := byID[id]
		if !ok {
			// Predecessor outside the backlog counts as already done.
			return true
		}
		for _, pre := range deps[id] {
			if !take(pre) {
				return false
			}
		}
		if plan.PointsPlanned+item.Points > capacity {
			return false
		}
		selected[id] = true
		plan.PointsPlanned += item.Points
		plan.RiskScore += item.RiskScore
		return true
	}

	// Must-include first. Failing to fit one is a planning error the caller
	// has to resolve, not something to silently drop.
	for _, item := range backlog {
		if item.MustInclude && !take(item.ID) {
			return nil, fmt.Errorf("must-include item %q does not fit under capacity %.1f", item.ID, capacity)
		}
	}

	candidates := make([]BacklogItem, 0, len(backlog))
	for _, item := range backlog {
		if !selected[item.ID] {
			candidates = append(candidates, item)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if candidates[i].RiskScore != candidates[j].RiskScore {
			return candidates[i].RiskScore < candidates[j].RiskScore
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, item := range candidates {
		if !take(item.ID) {
			plan.Notes = append(plan.Notes,
				fmt.Sprintf("%s deferred: capacity or unmet dependency", item.ID))
		}
	}

	for _, item := range backlog {
		if selected[item.ID] {
			plan.Selected = append(plan.Selected, item.ID)
		} else {
			plan.Deferred = append(plan.Deferred, item.ID)
		}
	}
	sort.Strings(plan.Selected)
	sort.Strings(plan.Deferred)
	return plan, nil
}
