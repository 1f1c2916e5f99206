package llm

import (
	"context"
	"sync"
)

// StubClient is a scripted client for tests. Responses are returned in
// order; when the script runs out the last response repeats.
type StubClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int

	// Prompts records every prompt seen, system prompts prefixed.
	Prompts []string

	ModelName string
}

// NewStubClient creates a stub that replays the given responses.
func NewStubClient(responses ...string) *StubClient {
	return &StubClient{responses: responses, ModelName: "stub"}
}

// WithErrors attaches per-call errors; a nil entry means success.
func (s *StubClient) WithErrors(errs ...error) *StubClient {
	s.errs = errs
	return s
}

// Model returns the stub model name.
func (s *StubClient) Model() string { return s.ModelName }

// Complete replays the next scripted response.
func (s *StubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.next(prompt)
}

// CompleteWithSystem replays the next scripted response.
func (s *StubClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.next(systemPrompt + "\n" + userPrompt)
}

// Calls returns how many completions have been requested.
func (s *StubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubClient) next(prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Prompts = append(s.Prompts, prompt)
	i := s.calls
	s.calls++

	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}
