// Package metadata writes titles, descriptions and tags for Shorts from the
// generation prompt using an OpenAI chat model.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// ErrNoChoicesReturned is returned when the model produced no answer
var ErrNoChoicesReturned = errors.New("no choices returned")

const (
	maxTags        = 15
	maxDescription = 4500

	systemPrompt = `You write metadata for YouTube Shorts. Reply with a single JSON object
with the keys "title" (at most 90 characters), "description" (two short sentences
ending with #shorts) and "tags" (up to 10 lowercase keywords). No other text.`
)

// chatService is the part of the OpenAI client the writer uses
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Writer completes publish metadata
type Writer struct {
	chat   chatService
	model  openai.ChatModel
	logger *logging.Logger
}

// NewWriter creates a writer from configuration
func NewWriter(cfg config.MetadataConfig, logger *logging.Logger) (*Writer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return newWriter(&client.Chat.Completions, cfg.Model, logger), nil
}

func newWriter(chat chatService, model string, logger *logging.Logger) *Writer {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Writer{
		chat:   chat,
		model:  openai.ChatModel(model),
		logger: logger.WithComponent("metadata"),
	}
}

type generated struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Complete fills the empty fields of meta. Fields already set are kept.
func (w *Writer) Complete(ctx context.Context, prompt string, meta models.PublishMetadata) (models.PublishMetadata, error) {
	if strings.TrimSpace(prompt) == "" {
		return meta, nil
	}

	resp, err := w.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: w.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage("Video prompt: " + prompt),
		},
	})
	if err != nil {
		return meta, fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return meta, ErrNoChoicesReturned
	}

	gen, err := parse(resp.Choices[0].Message.Content)
	if err != nil {
		return meta, err
	}

	if meta.Title == "" {
		meta.Title = gen.Title
	}
	if meta.Description == "" {
		meta.Description = truncate(gen.Description, maxDescription)
	}
	if len(meta.Tags) == 0 {
		meta.Tags = cleanTags(gen.Tags)
	}
	return meta, nil
}

// parse accepts a bare JSON object or one wrapped in a code fence
func parse(content string) (generated, error) {
	var out generated
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return out, fmt.Errorf("no JSON object in model reply")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("failed to decode model reply: %w", err)
	}
	out.Title = strings.TrimSpace(out.Title)
	if out.Title == "" {
		return out, fmt.Errorf("model reply has no title")
	}
	return out, nil
}

func cleanTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(t, "#")))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
