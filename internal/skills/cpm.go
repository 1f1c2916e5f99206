package skills

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ItemSchedule is the per-item CPM result.
type ItemSchedule struct {
	EarlyStart  float64 `json:"early_start"`
	EarlyFinish float64 `json:"early_finish"`
	LateStart   float64 `json:"late_start"`
	LateFinish  float64 `json:"late_finish"`
	Float       float64 `json:"float"`
	Critical    bool    `json:"critical"`
	StartDate   string  `json:"start_date,omitempty"`
	FinishDate  string  `json:"finish_date,omitempty"`
}

// CPMResult is the critical-path skill payload, shaped for the WBS endpoint.
type CPMResult struct {
	CriticalPath    []string                `json:"criticalPath"`
	ItemsWithFloat  map[string]ItemSchedule `json:"itemsWithFloat"`
	ProjectDuration float64                 `json:"projectDuration"`
}

// CriticalPath builds the critical-path skill: the critical path method with
// float calculation over a WBS item list.
// Input: items [{id, duration}], dependencies [{from, to}] meaning from
// finishes before to starts, project_start_date? (YYYY-MM-DD, durations in
// days).
func CriticalPath() *Skill {
	return &Skill{
		Name:        "critical-path",
		Category:    CategoryAnalyze,
		Version:     "1.0",
		Description: "critical path method with float over WBS items",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			durations := map[string]float64{}
			var ids []string
			for _, item := range mapSlice(input["items"]) {
				id := fmt.Sprint(item["id"])
				if id == "" || id == "<nil>" {
					continue
				}
				if _, dup := durations[id]; dup {
					return &Output{Error: fmt.Sprintf("duplicate item id %q", id)}, nil
				}
				d := floatArg(item, "duration", 0)
				if d < 0 {
					return &Output{Error: fmt.Sprintf("item %q has negative duration", id)}, nil
				}
				durations[id] = d
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				return &Output{Error: "items are required"}, nil
			}
			sort.Strings(ids)

			succ := map[string][]string{}
			pred := map[string][]string{}
			for _, dep := range mapSlice(input["dependencies"]) {
				from, to := fmt.Sprint(dep["from"]), fmt.Sprint(dep["to"])
				if _, ok := durations[from]; !ok {
					return &Output{Error: fmt.Sprintf("dependency references unknown item %q", from)}, nil
				}
				if _, ok := durations[to]; !ok {
					return &Output{Error: fmt.Sprintf("dependency references unknown item %q", to)}, nil
				}
				succ[from] = append(succ[from], to)
				pred[to] = append(pred[to], from)
			}

			order, ok := topoOrder(ids, succ, pred)
			if !ok {
				return &Output{Error: "dependency graph contains a cycle"}, nil
			}

			es := map[string]float64{}
			ef := map[string]float64{}
			for _, id := range order {
				start := 0.0
				for _, p := range pred[id] {
					if ef[p] > start {
						start = ef[p]
					}
				}
				es[id] = start
				ef[id] = start + durations[id]
			}

			projectDuration := 0.0
			for _, id := range ids {
				if ef[id] > projectDuration {
					projectDuration = ef[id]
				}
			}

			lf := map[string]float64{}
			ls := map[string]float64{}
			for i := len(order) - 1; i >= 0; i-- {
				id := order[i]
				finish := projectDuration
				for _, s := range succ[id] {
					if ls[s] < finish {
						finish = ls[s]
					}
				}
				lf[id] = finish
				ls[id] = finish - durations[id]
			}

			var startDate time.Time
			haveStart := false
			if raw := stringArg(input, "project_start_date"); raw != "" {
				parsed, err := time.Parse("2006-01-02", raw)
				if err != nil {
					return &Output{Error: fmt.Sprintf("invalid project_start_date: %v", err)}, nil
				}
				startDate, haveStart = parsed, true
			}

			result := CPMResult{
				ItemsWithFloat:  make(map[string]ItemSchedule, len(ids)),
				ProjectDuration: projectDuration,
			}
			const epsilon = 1e-9
			for _, id := range order {
				slack := ls[id] - es[id]
				if slack < epsilon {
					slack = 0
				}
				sched := ItemSchedule{
					EarlyStart:  es[id],
					EarlyFinish: ef[id],
					LateStart:   ls[id],
					LateFinish:  lf[id],
					Float:       slack,
					Critical:    slack == 0,
				}
				if haveStart {
					sched.StartDate = startDate.AddDate(0, 0, int(es[id])).Format("2006-01-02")
					sched.FinishDate = startDate.AddDate(0, 0, int(ef[id])).Format("2006-01-02")
				}
				result.ItemsWithFloat[id] = sched
				if sched.Critical {
					result.CriticalPath = append(result.CriticalPath, id)
				}
			}

			return &Output{
				Result:     result,
				Confidence: 1.0,
				Metadata: map[string]any{
					"item_count":       len(ids),
					"critical_count":   len(result.CriticalPath),
					"project_duration": projectDuration,
				},
			}, nil
		},
	}
}

// topoOrder runs Kahn's algorithm; ok is false when a cycle remains.
func topoOrder(ids []string, succ, pred map[string][]string) ([]string, bool) {
	indegree := map[string]int{}
	for _, id := range ids {
		indegree[id] = len(pred[id])
	}

	var ready []string
	for _, id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(ids))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := succ[id]
		sort.Strings(next)
		for _, s := range next {
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
		sort.Strings(ready)
	}
	return order, len(order) == len(ids)
}
