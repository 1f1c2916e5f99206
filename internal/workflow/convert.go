package workflow

import (
	"fmt"
	"time"
)

// Input conversion for template data keys. Callers may pass typed slices
// directly or decoded JSON ([]any of map[string]any); both shapes land in
// the same structs.

func mapsFromData(v any) []map[string]any {
	switch vv := v.(type) {
	case []map[string]any:
		return vv
	case []any:
		out := make([]map[string]any, 0, len(vv))
		for _, item := range vv {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func floatFromData(v any) float64 {
	switch vv := v.(type) {
	case float64:
		return vv
	case float32:
		return float64(vv)
	case int:
		return float64(vv)
	case int64:
		return float64(vv)
	}
	return 0
}

func backlogFromData(v any) []BacklogItem {
	if typed, ok := v.([]BacklogItem); ok {
		return typed
	}
	var out []BacklogItem
	for _, m := range mapsFromData(v) {
		item := BacklogItem{
			ID:        fmt.Sprint(m["id"]),
			Points:    floatFromData(m["points"]),
			Priority:  int(floatFromData(m["priority"])),
			RiskScore: floatFromData(m["risk_score"]),
		}
		if title, ok := m["title"].(string); ok {
			item.Title = title
		}
		if must, ok := m["must_include"].(bool); ok {
			item.MustInclude = must
		}
		out = append(out, item)
	}
	return out
}

// depsFromData reads [{from, to}] edges into predecessor lists: deps[to]
// holds everything that must finish before to starts.
func depsFromData(v any) map[string][]string {
	if typed, ok := v.(map[string][]string); ok {
		return typed
	}
	deps := map[string][]string{}
	for _, m := range mapsFromData(v) {
		from, to := fmt.Sprint(m["from"]), fmt.Sprint(m["to"])
		deps[to] = append(deps[to], from)
	}
	return deps
}

// depsReversed maps each node to its downstream dependents.
func depsReversed(v any) map[string][]string {
	out := map[string][]string{}
	for to, froms := range depsFromData(v) {
		for _, from := range froms {
			out[from] = append(out[from], to)
		}
	}
	return out
}

func requirementsFromData(v any) []Requirement {
	if typed, ok := v.([]Requirement); ok {
		return typed
	}
	var out []Requirement
	for _, m := range mapsFromData(v) {
		req := Requirement{ID: fmt.Sprint(m["id"])}
		if title, ok := m["title"].(string); ok {
			req.Title = title
		}
		out = append(out, req)
	}
	return out
}

func traceItemsFromData(v any) []TraceItem {
	if typed, ok := v.([]TraceItem); ok {
		return typed
	}
	var out []TraceItem
	for _, m := range mapsFromData(v) {
		item := TraceItem{ID: fmt.Sprint(m["id"])}
		if title, ok := m["title"].(string); ok {
			item.Title = title
		}
		if req, ok := m["requirement_id"].(string); ok {
			item.RequirementID = req
		}
		switch created := m["created_at"].(type) {
		case time.Time:
			item.CreatedAt = created
		case string:
			if parsed, err := time.Parse(time.RFC3339, created); err == nil {
				item.CreatedAt = parsed
			}
		}
		out = append(out, item)
	}
	return out
}
