package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
)

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Stream      bool         `json:"stream"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
	TopP        float64      `json:"top_p"`
}

type oaiChoice struct {
	Index        int         `json:"index"`
	Message      *oaiMessage `json:"message,omitempty"`
	Delta        *oaiMessage `json:"delta,omitempty"`
	FinishReason *string     `json:"finish_reason"`
}

type oaiCompletion struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []oaiChoice    `json:"choices"`
	Usage   map[string]int `json:"usage,omitempty"`
}

// handleChatCompletions is the OpenAI-compatible shim over the two-tier
// model pair. Streaming replays the completed text as SSE chunks.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req oaiRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrInput, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, ErrInput, "messages are required")
		return
	}

	client := s.pickModel(req.Model)
	if client == nil {
		writeError(w, ErrBackend, "no language model is configured")
		return
	}

	system, prompt := foldMessages(req.Messages)
	content, err := client.CompleteWithSystem(r.Context(), system, prompt)
	if err != nil {
		writeError(w, kindForError(err), "completion failed")
		return
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	model := client.Model()

	if req.Stream {
		s.streamCompletion(w, id, model, created, content)
		return
	}

	stop := "stop"
	writeJSON(w, http.StatusOK, oaiCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []oaiChoice{{
			Message:      &oaiMessage{Role: "assistant", Content: content},
			FinishReason: &stop,
		}},
		Usage: approximateUsage(system+prompt, content),
	})
}

// streamCompletion emits the OpenAI SSE framing: a role-announcement chunk,
// content deltas, a finish chunk, then the DONE sentinel.
func (s *Server) streamCompletion(w http.ResponseWriter, id, model string, created int64, content string) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	emit := func(choice oaiChoice) {
		chunk := oaiCompletion{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []oaiChoice{choice},
		}
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(chunk))
		if flusher != nil {
			flusher.Flush()
		}
	}

	emit(oaiChoice{Delta: &oaiMessage{Role: "assistant"}})
	for _, piece := range splitDeltas(content, 48) {
		emit(oaiChoice{Delta: &oaiMessage{Content: piece}})
	}
	stop := "stop"
	emit(oaiChoice{Delta: &oaiMessage{}, FinishReason: &stop})

	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// handleListModels lists the configured model tiers.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	seen := map[string]bool{}
	var data []map[string]any
	for _, client := range []llm.Client{s.deps.FastLLM, s.deps.QualityLLM} {
		if client == nil || seen[client.Model()] {
			continue
		}
		seen[client.Model()] = true
		data = append(data, map[string]any{
			"id":       client.Model(),
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "pms",
		})
	}
	if data == nil {
		data = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// pickModel resolves a requested model name to a configured tier. An exact
// name wins; lightweight-sounding names fall to the fast tier; everything
// else gets the quality tier.
func (s *Server) pickModel(model string) llm.Client {
	fast, quality := s.deps.FastLLM, s.deps.QualityLLM
	if fast != nil && model == fast.Model() {
		return fast
	}
	if quality != nil && model == quality.Model() {
		return quality
	}
	lower := strings.ToLower(model)
	if fast != nil && (strings.Contains(lower, "flash") || strings.Contains(lower, "mini") || strings.Contains(lower, "lite")) {
		return fast
	}
	if quality != nil {
		return quality
	}
	return fast
}

// foldMessages flattens an OpenAI message list into a system prompt and a
// conversation transcript ending at the latest user turn.
func foldMessages(messages []oaiMessage) (system, prompt string) {
	var systems, turns []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			systems = append(systems, m.Content)
		case "assistant":
			turns = append(turns, "Assistant: "+m.Content)
		default:
			turns = append(turns, "User: "+m.Content)
		}
	}
	return strings.Join(systems, "\n"), strings.Join(turns, "\n")
}

// splitDeltas cuts text into streaming pieces on word boundaries.
func splitDeltas(text string, max int) []string {
	if text == "" {
		return nil
	}
	words := strings.SplitAfter(text, " ")
	var pieces []string
	var current strings.Builder
	for _, word := range words {
		if current.Len() > 0 && current.Len()+len(word) > max {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// approximateUsage estimates token counts for the compatibility response;
// exact counts live in the cost tracker fed by the client itself.
func approximateUsage(prompt, completion string) map[string]int {
	promptTokens := len(strings.Fields(prompt))
	completionTokens := len(strings.Fields(completion))
	return map[string]int{
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"total_tokens":      promptTokens + completionTokens,
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
