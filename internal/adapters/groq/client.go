// Package groq generates chat prompts through the Groq completions API,
// falling back to a fixed prompt whenever generation fails.
package groq

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/ports"
)

// FallbackPrompt is used whenever prompt generation is unavailable.
const FallbackPrompt = "Hello, can you tell me something interesting?"

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama3-8b-8192"

	systemPrompt = "You are a helpful assistant. Generate a random, interesting question or prompt for an AI assistant. Keep it short (2 sentences max) and make it spark an engaging conversation."
	userPrompt   = "Generate an interesting prompt."
)

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Generator asks a Groq model for the next prompt. Without an API key it
// degrades to the fallback prompt immediately.
type Generator struct {
	opts   Options
	client *resty.Client
	log    *zap.Logger
}

var _ ports.PromptGenerator = (*Generator)(nil)

func NewGenerator(opts Options, log *zap.Logger) *Generator {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(15 * time.Second).
		SetHeader("content-type", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}
	return &Generator{opts: opts, client: client, log: log}
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

// NextPrompt never fails: any problem with generation yields the fallback.
func (g *Generator) NextPrompt(ctx context.Context) string {
	if g.opts.APIKey == "" {
		return FallbackPrompt
	}

	var body completionResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(completionRequest{
			Model: g.opts.Model,
			Messages: []completionMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
		}).
		SetResult(&body).
		Post("/chat/completions")
	if err != nil {
		g.log.Warn("prompt generation failed, using fallback", zap.Error(err))
		return FallbackPrompt
	}
	if resp.IsError() || len(body.Choices) == 0 {
		g.log.Warn("prompt generation returned no choices, using fallback",
			zap.Int("status", resp.StatusCode()))
		return FallbackPrompt
	}

	prompt := strings.TrimSpace(body.Choices[0].Message.Content)
	if prompt == "" {
		return FallbackPrompt
	}
	return prompt
}
