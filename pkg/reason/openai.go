package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"
	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/mnemo/pkg/provider"
	"github.com/soundprediction/mnemo/pkg/types"
)

const insightSystemPrompt = `You identify recurring patterns in batches of operational events.
Respond with ONLY a JSON array of objects of the form:
[{"pattern":"...","action":"...","confidence":0.0}]
confidence is your belief in the pattern, between 0 and 1.
Do not include any text outside the JSON array.`

// OpenAIProvider asks an OpenAI-compatible chat model for pattern insights.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIProvider creates an insight provider against an OpenAI-compatible
// endpoint.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
	}
}

func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) GenerateInsights(ctx context.Context, analysis *types.Analysis) ([]types.Insight, error) {
	summary, err := json.Marshal(analysis)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: insightSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(summary)},
		},
	})
	if err != nil {
		return nil, provider.Classify(fmt.Errorf("insight request failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, provider.NewMalformedError("insight response had no choices", nil)
	}

	return ParseInsights(resp.Choices[0].Message.Content)
}

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// rawInsight is the provider wire shape before ids are assigned.
type rawInsight struct {
	Pattern    string  `json:"pattern"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// ParseInsights parses model output into insights, repairing malformed JSON
// before classifying the response as malformed.
func ParseInsights(raw string) ([]types.Insight, error) {
	cleaned := thinkTagPattern.ReplaceAllString(raw, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed []rawInsight
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return nil, provider.NewMalformedError("unparsable insight output", err)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil, provider.NewMalformedError("insight output invalid after repair", err)
		}
	}

	insights := make([]types.Insight, 0, len(parsed))
	for _, r := range parsed {
		if strings.TrimSpace(r.Pattern) == "" {
			continue
		}
		insights = append(insights, types.Insight{
			Pattern:    r.Pattern,
			Action:     r.Action,
			Confidence: types.ClampConfidence(r.Confidence),
		})
	}
	return insights, nil
}
