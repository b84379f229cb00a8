package extract

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

const extractionSystemPrompt = `You extract entities and relationships from maintenance and operations text.
Respond with ONLY a JSON object of the form:
{"entities":[{"name":"...","type":"...","description":"..."}],"relationships":[{"source":"...","target":"...","type":"..."}]}
Entity types: equipment, error_code, part, symptom, solution, tool. Use "custom" when none fits.
Do not include any text outside the JSON object.`

// OpenAIExtractor asks an OpenAI-compatible chat model for structured
// extraction output.
type OpenAIExtractor struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIExtractor creates an extractor against an OpenAI-compatible
// endpoint.
func NewOpenAIExtractor(cfg Config) *OpenAIExtractor {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIExtractor{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
	}
}

func (e *OpenAIExtractor) Close() error { return nil }

func (e *OpenAIExtractor) Extract(ctx context.Context, text string) (*types.Extraction, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, provider.Classify(fmt.Errorf("extraction request failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, provider.NewMalformedError("extraction response had no choices", nil)
	}

	return ParseExtraction(resp.Choices[0].Message.Content)
}

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ParseExtraction parses model output into an Extraction, tolerating the
// usual damage: reasoning-model think blocks, markdown fences and
// truncated JSON (repaired via jsonrepair before giving up).
func ParseExtraction(raw string) (*types.Extraction, error) {
	cleaned := thinkTagPattern.ReplaceAllString(raw, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var extraction types.Extraction
	if err := json.Unmarshal([]byte(cleaned), &extraction); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return nil, provider.NewMalformedError("unparsable extraction output", err)
		}
		if err := json.Unmarshal([]byte(repaired), &extraction); err != nil {
			return nil, provider.NewMalformedError("extraction output invalid after repair", err)
		}
	}

	// Drop proposals missing required fields instead of failing the call.
	entities := extraction.Entities[:0]
	for _, ent := range extraction.Entities {
		if strings.TrimSpace(ent.Name) != "" {
			entities = append(entities, ent)
		}
	}
	extraction.Entities = entities

	relationships := extraction.Relationships[:0]
	for _, rel := range extraction.Relationships {
		if strings.TrimSpace(rel.Source) != "" && strings.TrimSpace(rel.Target) != "" {
			relationships = append(relationships, rel)
		}
	}
	extraction.Relationships = relationships

	return &extraction, nil
}
