package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// StructuredOptions controls structured generation.
type StructuredOptions struct {
	// SystemPrompt is prepended as a system instruction when non-empty.
	SystemPrompt string

	// MaxRetries bounds re-asks after a parse failure (default 2).
	MaxRetries int
}

// GenerateStructured asks the client for a JSON object and unmarshals it into
// out. The model response may wrap the JSON in prose or a fenced code block;
// both are tolerated. On a parse failure the prompt is re-sent with an
// explicit "prior parse failed" hint, up to MaxRetries times.
func GenerateStructured(ctx context.Context, client Client, prompt string, out any, opts StructuredOptions) (string, error) {
	if client == nil {
		return "", fmt.Errorf("structured generation: nil client")
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 2
	}

	log := logging.L(logging.CategoryLLM)
	current := prompt
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var raw string
		var err error
		if opts.SystemPrompt != "" {
			raw, err = client.CompleteWithSystem(ctx, opts.SystemPrompt, current)
		} else {
			raw, err = client.Complete(ctx, current)
		}
		if err != nil {
			return "", err
		}

		jsonStr := ExtractJSON(raw)
		if jsonStr == "" {
			lastErr = fmt.Errorf("no JSON object found in response")
		} else if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
			lastErr = fmt.Errorf("JSON parse failed: %w", err)
		} else {
			return jsonStr, nil
		}

		log.Debug("structured parse failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		current = prompt + fmt.Sprintf(
			"\n\nYour prior response could not be parsed (prior parse failed: %v). "+
				"Respond with a single valid JSON object and nothing else.", lastErr)
	}

	return "", fmt.Errorf("structured generation failed after %d retries: %w", retries, lastErr)
}

// ExtractJSON finds the first balanced JSON object in a response, tolerating
// markdown fences and leading or trailing prose. Returns "" when none exists.
func ExtractJSON(response string) string {
	// Prefer a fenced block when present.
	if i := strings.Index(response, "```"); i != -1 {
		rest := response[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if end := strings.Index(rest, "```"); end != -1 {
			if obj := balancedObject(rest[:end]); obj != "" {
				return obj
			}
		}
	}
	return balancedObject(response)
}

// balancedObject returns the first {...} span with balanced braces, skipping
// braces inside string literals.
func balancedObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// ExtractFencedCode pulls the contents of the first fenced code block whose
// language matches (or any block when lang is empty). Falls back to the whole
// input when no fence exists. Used by the query generator.
func ExtractFencedCode(response, lang string) string {
	i := strings.Index(response, "```")
	if i == -1 {
		return strings.TrimSpace(response)
	}
	rest := response[i+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		tag := strings.TrimSpace(rest[:nl])
		if lang == "" || strings.EqualFold(tag, lang) || tag == "" {
			body := rest[nl+1:]
			if end := strings.Index(body, "```"); end != -1 {
				return strings.TrimSpace(body[:end])
			}
		}
	}
	return strings.TrimSpace(response)
}
