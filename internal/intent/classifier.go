// Package intent classifies incoming questions into pipeline intents with a
// fast rule stage backed by an LLM stage for everything the rules cannot
// settle confidently.
package intent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// Intent names the pipeline route for a question.
type Intent string

const (
	QueryRelational     Intent = "QUERY_RELATIONAL"
	QueryGraph          Intent = "QUERY_GRAPH"
	General             Intent = "GENERAL"
	OutOfScope          Intent = "OUT_OF_SCOPE"
	ClarificationNeeded Intent = "CLARIFICATION_NEEDED"
)

// Valid reports whether i is one of the declared intents.
func (i Intent) Valid() bool {
	switch i {
	case QueryRelational, QueryGraph, General, OutOfScope, ClarificationNeeded:
		return true
	}
	return false
}

// Result is the classifier output.
type Result struct {
	Intent             Intent   `json:"intent"`
	Confidence         float64  `json:"confidence"`
	RephrasedQuestion  string   `json:"rephrased_question,omitempty"`
	RelevantModels     []string `json:"relevant_models,omitempty"`
	MissingParameters  []string `json:"missing_parameters,omitempty"`
	ClarificationAsk   string   `json:"clarification_prompt,omitempty"`
}

// ModelSummarizer supplies the available-model overview for the LLM prompt.
// *semantic.Layer satisfies it.
type ModelSummarizer interface {
	ModelSummary() string
}

// Classifier runs the two-stage classification.
type Classifier struct {
	client llm.Client
	models ModelSummarizer
}

// NewClassifier builds a classifier. client may be nil, in which case only
// the rule stage runs and its best guess is final.
func NewClassifier(client llm.Client, models ModelSummarizer) *Classifier {
	return &Classifier{client: client, models: models}
}

// ruleConfidenceFloor is the stage-1 confidence at which the LLM stage is
// skipped entirely.
const ruleConfidenceFloor = 0.9

// Classify routes question through the rule stage and, when the rules are not
// confident enough, the LLM stage. contextText carries prior conversation
// turns and may be empty; projectID may be empty when unknown.
func (c *Classifier) Classify(ctx context.Context, question, contextText, projectID string) Result {
	log := logging.L(logging.CategoryIntent)

	ruled := classifyByRules(question, projectID)
	if ruled.Confidence >= ruleConfidenceFloor {
		log.Debug("rule-stage decision",
			zap.String("intent", string(ruled.Intent)),
			zap.Float64("confidence", ruled.Confidence))
		return ruled
	}

	if c.client == nil {
		return ruled
	}

	llmResult, err := c.classifyByLLM(ctx, question, contextText, projectID)
	if err != nil {
		log.Warn("llm-stage classification failed, falling back",
			zap.Error(err),
			zap.String("rule_intent", string(ruled.Intent)))
		if ruled.Intent != "" {
			return ruled
		}
		return Result{Intent: QueryRelational, Confidence: 0.5}
	}
	return llmResult
}

const classifyPromptTemplate = `You are the intent router of a project management assistant.

Classify the user question into exactly one intent:
- QUERY_RELATIONAL: the answer requires querying structured project data (tasks, sprints, backlog, users, requirements). Examples: "How many tasks are in progress?", "list overdue tasks". Requires a project context.
- QUERY_GRAPH: the answer requires searching project documents or their relationships. Examples: "what did the payment spec say about retries?", "which decisions relate to the login rework?".
- GENERAL: general project-management knowledge with no data lookup. Examples: "what is sprint velocity?", "difference between scrum and kanban".
- OUT_OF_SCOPE: harmful, destructive, or unrelated to project management.
- CLARIFICATION_NEEDED: too vague to act on, or a required parameter such as the project is missing.

Available data models:
%s

Project context known: %t
Prior conversation:
%s

Question: %s

Respond with a single JSON object:
{"intent": "...", "confidence": 0.0-1.0, "rephrased_question": "...", "relevant_models": [...], "missing_parameters": [...], "clarification_prompt": "..."}`

func (c *Classifier) classifyByLLM(ctx context.Context, question, contextText, projectID string) (Result, error) {
	summary := "(none)"
	if c.models != nil {
		summary = c.models.ModelSummary()
	}
	if contextText == "" {
		contextText = "(none)"
	}
	prompt := fmt.Sprintf(classifyPromptTemplate, summary, projectID != "", contextText, question)

	var out Result
	if _, err := llm.GenerateStructured(ctx, c.client, prompt, &out, llm.StructuredOptions{}); err != nil {
		return Result{}, err
	}
	if !out.Intent.Valid() {
		return Result{}, fmt.Errorf("model returned unknown intent %q", out.Intent)
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	if out.Intent == ClarificationNeeded && out.ClarificationAsk == "" {
		out.ClarificationAsk = defaultClarification(question)
	}
	return out, nil
}

func defaultClarification(question string) string {
	if strings.TrimSpace(question) == "" {
		return "What would you like to know about your project?"
	}
	return "Could you narrow that down? For example, name the project, time range, or the specific items you mean."
}
