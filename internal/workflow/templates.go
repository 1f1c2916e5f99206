package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/skills"
)

// Templates builds the shipped workflow graphs over a skill registry and an
// optional LLM client.
type Templates struct {
	skills *skills.Registry
	client llm.Client
}

// NewTemplates wires the template builder. client may be nil; reasoning
// nodes then use their deterministic fallbacks.
func NewTemplates(reg *skills.Registry, client llm.Client) *Templates {
	return &Templates{skills: reg, client: client}
}

// observe is the shared terminal node: it marks the state and leaves span
// emission to the engine observer.
func observe() *Node {
	return &Node{
		Name: "observe",
		Kind: NodeObserve,
		Run: func(ctx context.Context, s State) (Delta, error) {
			logging.L(logging.CategoryWorkflow).Debug("run observed",
				zap.String("run_id", s.RunID),
				zap.String("status", string(s.Status)),
				zap.Float64("confidence", s.Confidence))
			return Delta{Data: map[string]any{"observed_at": time.Now().UTC().Format(time.RFC3339)}}, nil
		},
	}
}

// requireData fails with INFO_MISSING when a required input key is absent.
func requireData(s State, keys ...string) *Failure {
	var missing []string
	for _, key := range keys {
		if _, ok := s.Data[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &Failure{
		Type:   FailureInfoMissing,
		Detail: fmt.Sprintf("missing required input: %s", strings.Join(missing, ", ")),
	}
}

// WeeklyReport is template G1: context, parallel retrieval, templated
// report, evidence check, then a gate that drafts freely but demands
// approval before commit.
func (t *Templates) WeeklyReport() Template {
	return Template{
		Name: "weekly-report",
		Steps: []Step{
			Seq(Node{
				Name: "build-context",
				Kind: NodeBuildContext,
				Run: func(ctx context.Context, s State) (Delta, error) {
					if s.ProjectID == "" {
						return Delta{Failure: &Failure{
							Type:   FailureInfoMissing,
							Detail: "project_id is required for a weekly report",
						}}, nil
					}
					return Delta{Data: map[string]any{"report_kind": "weekly"}}, nil
				},
			}),
			Fan(
				t.skillDataNode("fetch-metrics", NodeRetrieve, "retrieve-metrics", "metrics",
					func(s State) map[string]any {
						q, _ := s.Data["metrics_query"].(string)
						if q == "" {
							return nil
						}
						return map[string]any{"query": q, "project_id": s.ProjectID}
					}),
				t.skillDataNode("fetch-docs", NodeRetrieve, "retrieve-docs", "docs",
					func(s State) map[string]any {
						q, _ := s.Data["docs_query"].(string)
						if q == "" {
							return nil
						}
						return map[string]any{
							"query":             q,
							"project_id":        s.ProjectID,
							"user_access_level": s.Data["user_access_level"],
						}
					}),
				callerDataNode("collect-events", "events"),
			),
			Seq(t.reportNode("weekly")),
			Seq(t.evidenceNode()),
			Seq(Node{
				Name: "gate",
				Kind: NodeGate,
				Run: func(ctx context.Context, s State) (Delta, error) {
					commit, _ := s.Data["commit"].(bool)
					return Delta{
						Mode:             ModeExecute,
						RequiresApproval: Bool(commit),
					}, nil
				},
			}),
		},
		Observe: observe(),
	}
}

// SprintPlanning is template G2: dependency analysis plus capacity-bound
// scope optimisation, policy-checked and gated on approval for commit.
func (t *Templates) SprintPlanning() Template {
	return Template{
		Name: "sprint-planning",
		Steps: []Step{
			Seq(Node{
				Name: "build-context",
				Kind: NodeBuildContext,
				Run: func(ctx context.Context, s State) (Delta, error) {
					if f := requireData(s, "backlog", "capacity"); f != nil {
						return Delta{Failure: f}, nil
					}
					return Delta{}, nil
				},
			}),
			Seq(t.skillDataNode("analyze-dependency", NodeRetrieve, "analyze-dependency", "dependency_report",
				func(s State) map[string]any {
					return map[string]any{
						"items":        s.Data["backlog"],
						"dependencies": s.Data["dependencies"],
					}
				})),
			Seq(Node{
				Name: "optimise-scope",
				Kind: NodeAct,
				Run: func(ctx context.Context, s State) (Delta, error) {
					backlog := backlogFromData(s.Data["backlog"])
					deps := depsFromData(s.Data["dependencies"])
					capacity := floatFromData(s.Data["capacity"])

					plan, err := PlanSprint(backlog, deps, capacity)
					if err != nil {
						return Delta{Failure: &Failure{
							Type:   FailureConflict,
							Detail: err.Error(),
						}}, nil
					}
					return Delta{
						Data:       map[string]any{"plan": plan},
						Result:     map[string]any{"plan": plan},
						Confidence: Conf(0.8),
					}, nil
				},
			}),
			Seq(t.policyNode("sprint")),
			Seq(Node{
				Name: "gate",
				Kind: NodeGate,
				Run: func(ctx context.Context, s State) (Delta, error) {
					return Delta{Mode: ModeSuggest, RequiresApproval: Bool(true)}, nil
				},
			}),
		},
		Observe: observe(),
	}
}

// Traceability is template G3: requirements-to-backlog cross-check.
func (t *Templates) Traceability() Template {
	return Template{
		Name: "traceability",
		Steps: []Step{
			Seq(Node{
				Name: "build-context",
				Kind: NodeBuildContext,
				Run: func(ctx context.Context, s State) (Delta, error) {
					if f := requireData(s, "requirements", "items"); f != nil {
						return Delta{Failure: f}, nil
					}
					return Delta{}, nil
				},
			}),
			Seq(Node{
				Name: "detect-findings",
				Kind: NodeAct,
				Run: func(ctx context.Context, s State) (Delta, error) {
					reqs := requirementsFromData(s.Data["requirements"])
					items := traceItemsFromData(s.Data["items"])
					freeze, _ := s.Data["freeze"].(time.Time)

					report := AnalyzeTraceability(reqs, items, freeze)
					return Delta{
						Result:     map[string]any{"trace_report": report},
						Confidence: Conf(0.9),
					}, nil
				},
			}),
			Seq(suggestGate()),
		},
		Observe: observe(),
	}
}

// RiskRadar is template G4: windowed events plus topology into scored risks
// with downstream impact mapping.
func (t *Templates) RiskRadar() Template {
	return Template{
		Name: "risk-radar",
		Steps: []Step{
			Seq(t.skillDataNode("analyze-risk", NodeRetrieve, "analyze-risk", "risks",
				func(s State) map[string]any {
					return map[string]any{
						"events":       s.Data["events"],
						"metrics":      s.Data["metrics"],
						"dependencies": s.Data["dependencies"],
					}
				})),
			Seq(Node{
				Name: "map-impact",
				Kind: NodeAct,
				Run: func(ctx context.Context, s State) (Delta, error) {
					risks, _ := s.Data["risks"].([]skills.RiskItem)
					deps := depsReversed(s.Data["dependencies"])
					impact := map[string][]string{}
					for _, risk := range risks {
						for _, src := range risk.Sources {
							if downstream := deps[src]; len(downstream) > 0 {
								impact[risk.ID] = append(impact[risk.ID], downstream...)
							}
						}
					}
					return Delta{
						Result: map[string]any{
							"risks":  risks,
							"impact": impact,
						},
					}, nil
				},
			}),
			Seq(suggestGate()),
		},
		Observe: observe(),
	}
}

// KnowledgeQA is template G5: parallel vector and graph retrieval, cited
// summarisation, and an evidence check that refuses to answer beyond its
// sources.
func (t *Templates) KnowledgeQA() Template {
	return Template{
		Name: "knowledge-qa",
		Steps: []Step{
			Seq(Node{
				Name: "build-context",
				Kind: NodeBuildContext,
				Run: func(ctx context.Context, s State) (Delta, error) {
					if f := requireData(s, "question"); f != nil {
						return Delta{Failure: f}, nil
					}
					return Delta{}, nil
				},
			}),
			Fan(
				t.retrieveNode("retrieve-docs", "docs"),
				t.retrieveNode("retrieve-graph", "graph_docs"),
			),
			Seq(Node{
				Name: "summarise",
				Kind: NodeReason,
				Run: func(ctx context.Context, s State) (Delta, error) {
					chunks := append(mapsFromData(s.Data["docs"]), mapsFromData(s.Data["graph_docs"])...)
					if len(chunks) == 0 {
						return Delta{Data: map[string]any{"draft": "", "chunks": chunks}}, nil
					}
					out, err := t.skills.Execute(ctx, "generate-summary", map[string]any{
						"chunks":   chunks,
						"style":    "brief",
						"question": s.Data["question"],
					})
					if err != nil || out.Failed() {
						return Delta{Data: map[string]any{"draft": "", "chunks": chunks}}, nil
					}
					draft, _ := out.Result.(string)
					return Delta{
						Data:       map[string]any{"draft": draft, "chunks": chunks},
						Evidence:   out.Evidence,
						Confidence: Conf(out.Confidence),
					}, nil
				},
			}),
			Seq(Node{
				Name: "check-evidence",
				Kind: NodeVerify,
				Run: func(ctx context.Context, s State) (Delta, error) {
					draft, _ := s.Data["draft"].(string)
					chunks := mapsFromData(s.Data["chunks"])
					if strings.TrimSpace(draft) == "" || len(chunks) == 0 {
						return insufficientEvidence(), nil
					}
					out, err := t.skills.Execute(ctx, "validate-evidence", map[string]any{
						"claims": draft,
						"chunks": chunks,
					})
					if err != nil || out.Failed() {
						return insufficientEvidence(), nil
					}
					verdict, _ := out.Result.(map[string]any)
					if supported, _ := verdict["all_supported"].(bool); !supported {
						return insufficientEvidence(), nil
					}
					conf := s.Confidence
					if out.Confidence < conf {
						conf = out.Confidence
					}
					return Delta{
						Result:     map[string]any{"reply": draft},
						Confidence: Conf(conf),
					}, nil
				},
			}),
			Seq(suggestGate()),
		},
		Observe: observe(),
	}
}

// insufficientEvidence is the honest refusal for G5: never answer past the
// retrieved sources.
func insufficientEvidence() Delta {
	return Delta{
		Result: map[string]any{
			"reply":  "insufficient evidence: no retrieved source supports an answer to this question",
			"honest": true,
		},
		Confidence: Conf(0.3),
	}
}

func suggestGate() Node {
	return Node{
		Name: "gate",
		Kind: NodeGate,
		Run: func(ctx context.Context, s State) (Delta, error) {
			return Delta{Mode: ModeSuggest}, nil
		},
	}
}

// skillDataNode invokes a skill and stores its result under dataKey. A nil
// input from the builder skips the call; a failed skill output becomes a
// tool error so the engine's retry and recovery policies apply.
func (t *Templates) skillDataNode(name string, kind NodeKind, skill, dataKey string, build func(State) map[string]any) Node {
	return Node{
		Name: name,
		Kind: kind,
		Run: func(ctx context.Context, s State) (Delta, error) {
			input := build(s)
			if input == nil {
				return Delta{}, nil
			}
			out, err := t.skills.Execute(ctx, skill, input)
			if err != nil {
				return Delta{}, err
			}
			if out.Failed() {
				return Delta{Failure: &Failure{
					Type:   FailureToolError,
					Detail: out.Error,
				}}, nil
			}
			return Delta{
				Data:     map[string]any{dataKey: out.Result},
				Evidence: out.Evidence,
			}, nil
		},
	}
}

// retrieveNode is the G5 retrieval wrapper: empty results are a valid
// signal, and the broaden flag from low-confidence recovery widens top_k.
func (t *Templates) retrieveNode(skill, dataKey string) Node {
	return Node{
		Name: skill,
		Kind: NodeRetrieve,
		Run: func(ctx context.Context, s State) (Delta, error) {
			topK := 5
			if broaden, _ := s.Data["broaden"].(bool); broaden {
				topK = 10
			}
			out, err := t.skills.Execute(ctx, skill, map[string]any{
				"query":             s.Data["question"],
				"project_id":        s.ProjectID,
				"user_access_level": s.Data["user_access_level"],
				"top_k":             topK,
			})
			if err != nil {
				return Delta{}, err
			}
			if out.Failed() {
				// Retrieval backends being empty or down must not block the
				// honesty path; G5 answers "insufficient evidence" instead.
				return Delta{Data: map[string]any{dataKey: []map[string]any{}}}, nil
			}
			return Delta{
				Data:     map[string]any{dataKey: out.Result},
				Evidence: out.Evidence,
			}, nil
		},
	}
}

func (t *Templates) reportNode(kind string) Node {
	return Node{
		Name: "generate-report",
		Kind: NodeReason,
		Run: func(ctx context.Context, s State) (Delta, error) {
			data := map[string]any{}
			if rows := s.Data["metrics"]; rows != nil {
				data["metrics"] = rows
			}
			if events := s.Data["events"]; events != nil {
				data["highlights"] = events
			}
			if docs := mapsFromData(s.Data["docs"]); len(docs) > 0 {
				var lines []string
				for _, d := range docs {
					if c, ok := d["content"].(string); ok {
						lines = append(lines, c)
					}
				}
				data["risks"] = strings.Join(lines, "\n")
			}
			for k, v := range sectionOverrides(s.Data) {
				data[k] = v
			}

			out, err := t.skills.Execute(ctx, "generate-report", map[string]any{
				"kind":       kind,
				"project_id": s.ProjectID,
				"data":       data,
			})
			if err != nil {
				return Delta{}, err
			}
			if out.Failed() {
				return Delta{Failure: &Failure{Type: FailureToolError, Detail: out.Error}}, nil
			}
			report, _ := out.Result.(string)
			return Delta{
				Data:       map[string]any{"draft": report},
				Result:     map[string]any{"report": report},
				Confidence: Conf(out.Confidence),
			}, nil
		},
	}
}

func (t *Templates) evidenceNode() Node {
	return Node{
		Name: "validate-evidence",
		Kind: NodeVerify,
		Run: func(ctx context.Context, s State) (Delta, error) {
			draft, _ := s.Data["draft"].(string)
			chunks := mapsFromData(s.Data["docs"])
			if draft == "" || len(chunks) == 0 {
				return Delta{}, nil
			}
			out, err := t.skills.Execute(ctx, "validate-evidence", map[string]any{
				"claims": draft,
				"chunks": chunks,
			})
			if err != nil || out.Failed() {
				return Delta{}, nil
			}
			return Delta{Data: map[string]any{"evidence_check": out.Result}}, nil
		},
	}
}

func (t *Templates) policyNode(resource string) Node {
	return Node{
		Name: "validate-policy",
		Kind: NodeVerify,
		Run: func(ctx context.Context, s State) (Delta, error) {
			out, err := t.skills.Execute(ctx, "validate-policy", map[string]any{
				"role":     s.Role,
				"action":   "write",
				"resource": resource,
			})
			if err != nil {
				return Delta{}, err
			}
			if out.Failed() {
				return Delta{Failure: &Failure{Type: FailureToolError, Detail: out.Error}}, nil
			}
			verdict, _ := out.Result.(map[string]any)
			if allowed, _ := verdict["allowed"].(bool); !allowed {
				return Delta{Failure: &Failure{
					Type:   FailurePolicyViolation,
					Detail: policyDetail(verdict),
				}}, nil
			}
			return Delta{}, nil
		},
	}
}

func policyDetail(verdict map[string]any) string {
	if violations, ok := verdict["violations"].([]string); ok && len(violations) > 0 {
		return strings.Join(violations, "; ")
	}
	return "action not permitted for role"
}

// callerDataNode forwards request-supplied data under key into the branch
// delta. Events are not retrieved anywhere; callers send them on the run
// payload, the same way risk-radar receives its event window.
func callerDataNode(name, key string) Node {
	return Node{
		Name: name,
		Kind: NodeBuildContext,
		Run: func(ctx context.Context, s State) (Delta, error) {
			v, ok := s.Data[key]
			if !ok || v == nil {
				return Delta{}, nil
			}
			return Delta{Data: map[string]any{key: v}}, nil
		},
	}
}

func sectionOverrides(data map[string]any) map[string]any {
	out := map[string]any{}
	if sections, ok := data["sections"].(map[string]any); ok {
		for k, v := range sections {
			out[k] = v
		}
	}
	return out
}
