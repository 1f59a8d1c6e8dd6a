// Package gemini suggests prompts by calling Gemini directly instead of
// going through the generation edge function. Selected with
// PROMPT_PROVIDER=gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/cesardomingos/imagenius/internal/config"
	"github.com/cesardomingos/imagenius/internal/genbackend"
	"github.com/cesardomingos/imagenius/internal/models"
	"github.com/cesardomingos/imagenius/internal/retry"
)

// Suggester is a prompt-suggestion provider backed by the Gemini API. It
// retries rate limits and overload the same way the edge client does.
type Suggester struct {
	apiKey   string
	model    string
	log      *slog.Logger
	retryCfg retry.Config
}

func NewSuggester(cfg config.Config, log *slog.Logger) *Suggester {
	retryCfg := retry.DefaultConfig()
	if cfg.RetryMaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryMaxAttempts
	}

	return &Suggester{
		apiKey:   cfg.GeminiAPIKey,
		model:    cfg.GeminiModel,
		log:      log,
		retryCfg: retryCfg,
	}
}

// SuggestPrompts sends the reference images and themes to Gemini and parses
// one prompt per response line. The token requirement mirrors the edge
// function: unauthenticated actors cannot request suggestions.
func (s *Suggester) SuggestPrompts(ctx context.Context, token string, images []models.ReferenceImage, themes []string, templateID string) ([]string, error) {
	if token == "" {
		return nil, &genbackend.APIError{Kind: genbackend.KindUnauthenticated, Message: "missing bearer credential"}
	}
	if s.apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}

	parts := []genai.Part{genai.Text(buildInstruction(themes, templateID))}
	for _, img := range images {
		parts = append(parts, genai.ImageData(formatFromMime(img.Mime), img.Data))
	}

	return retry.Do(ctx, s.retryCfg, s.log, "gemini_suggest_prompts", genbackend.Classify, func(ctx context.Context) ([]string, error) {
		client, err := genai.NewClient(ctx, option.WithAPIKey(s.apiKey))
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		defer client.Close()

		model := client.GenerativeModel(s.model)
		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			return nil, classifyError(err)
		}
		return extractPrompts(resp)
	})
}

// classifyError rewraps Gemini transport failures as tagged backend errors so
// the shared retrier treats both providers alike.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &genbackend.APIError{
			Kind:    genbackend.KindFromStatus(apiErr.Code),
			Status:  apiErr.Code,
			Message: apiErr.Message,
		}
	}
	return fmt.Errorf("generate content: %w", err)
}

func extractPrompts(resp *genai.GenerateContentResponse) ([]string, error) {
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates returned from Gemini")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("empty content returned from Gemini")
	}

	txt, ok := candidate.Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response format from Gemini")
	}

	prompts := parsePrompts(string(txt))
	if len(prompts) == 0 {
		return nil, fmt.Errorf("no prompts in Gemini response")
	}
	return prompts, nil
}

func buildInstruction(themes []string, templateID string) string {
	var b strings.Builder
	b.WriteString("You are a prompt writer for an image generation model. ")
	b.WriteString("Given the attached reference images, write image generation prompts ")
	b.WriteString("matching these themes: ")
	b.WriteString(strings.Join(themes, ", "))
	b.WriteString(". ")
	if templateID != "" {
		b.WriteString("Follow the style template " + templateID + ". ")
	}
	b.WriteString("Return one prompt per line with no numbering and no extra commentary.")
	return b.String()
}

func parsePrompts(raw string) []string {
	var prompts []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line == "" {
			continue
		}
		prompts = append(prompts, line)
	}
	return prompts
}

func formatFromMime(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpeg"
	}
}
