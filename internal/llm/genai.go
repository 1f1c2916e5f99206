package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// GenAIClient implements Client using the Google GenAI API.
type GenAIClient struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	topP        float32
	sink        UsageSink
}

// GenAIOptions configures a GenAIClient.
type GenAIOptions struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Sink        UsageSink
}

// NewGenAIClient creates a GenAI-backed client.
func NewGenAIClient(ctx context.Context, opts GenAIOptions) (*GenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: opts.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{
		client:      client,
		model:       opts.Model,
		maxTokens:   int32(opts.MaxTokens),
		temperature: float32(opts.Temperature),
		topP:        float32(opts.TopP),
		sink:        opts.Sink,
	}, nil
}

// Model returns the configured model name.
func (c *GenAIClient) Model() string { return c.model }

// Complete sends a single user prompt.
func (c *GenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, nil, prompt)
}

// CompleteWithSystem sends a system instruction plus a user prompt.
func (c *GenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var system *genai.Content
	if systemPrompt != "" {
		system = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	return c.generate(ctx, system, userPrompt)
}

func (c *GenAIClient) generate(ctx context.Context, system *genai.Content, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(c.temperature),
		TopP:              genai.Ptr(c.topP),
		SystemInstruction: system,
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		logging.L(logging.CategoryLLM).Warn("generate failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if c.sink != nil && resp.UsageMetadata != nil {
		c.sink.RecordUsage(c.model, "generate", Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		})
	}

	return resp.Text(), nil
}
