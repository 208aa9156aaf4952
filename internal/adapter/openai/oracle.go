// Package openai implements the fusion oracle with an OpenAI chat model.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/hazard-alert-service/internal/fusion"
	goopenai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are a wildfire and natural hazard risk analyst.
You receive JSON evidence about one location: nearby satellite fire detections,
recent community hazard reports, current weather, and a heuristic score in [0,1].
Reply with a single JSON object: {"confidence": number in [0,1], "summary": string,
"recommendations": [string]}. Confidence is the probability that the location
faces a hazard requiring public action in the next 24 hours.`

// Oracle scores risk with a chat completion returning a JSON object.
type Oracle struct {
	client *goopenai.Client
	model  string
	logger *slog.Logger
}

// NewOracle creates an oracle. An empty baseURL selects the public API.
func NewOracle(apiKey, model, baseURL string, logger *slog.Logger) *Oracle {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = goopenai.GPT4oMini
	}
	return &Oracle{client: goopenai.NewClientWithConfig(cfg), model: model, logger: logger}
}

// Score implements fusion.Oracle.
func (o *Oracle) Score(ctx context.Context, in fusion.OracleInput) (fusion.OracleResult, error) {
	evidence, err := json.Marshal(in)
	if err != nil {
		return fusion.OracleResult{}, fmt.Errorf("encode evidence: %w", err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: o.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: string(evidence)},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
		MaxTokens:   400,
	})
	if err != nil {
		return fusion.OracleResult{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fusion.OracleResult{}, errors.New("chat completion returned no choices")
	}

	return parseResult(resp.Choices[0].Message.Content)
}

func parseResult(content string) (fusion.OracleResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")

	var raw struct {
		Confidence      *float64 `json:"confidence"`
		Summary         string   `json:"summary"`
		Recommendations []string `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return fusion.OracleResult{}, fmt.Errorf("decode oracle answer: %w", err)
	}
	if raw.Confidence == nil {
		return fusion.OracleResult{}, errors.New("oracle answer has no confidence")
	}
	return fusion.OracleResult{
		Confidence:      *raw.Confidence,
		Summary:         raw.Summary,
		Recommendations: raw.Recommendations,
	}, nil
}
