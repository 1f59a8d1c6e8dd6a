// Package genbackend is the HTTP client for the Gemini-backed generation
// edge function: prompt suggestion from reference images plus themes, and
// final image rendering from a chosen prompt.
package genbackend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cesardomingos/imagenius/internal/config"
	"github.com/cesardomingos/imagenius/internal/models"
	"github.com/cesardomingos/imagenius/internal/retry"
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
	retryCfg   retry.Config
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	retryCfg := retry.DefaultConfig()
	if cfg.RetryMaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryMaxAttempts
	}

	return &Client{
		apiKey:  cfg.EdgeAPIKey,
		baseURL: strings.TrimRight(cfg.EdgeBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:      log,
		retryCfg: retryCfg,
	}
}

type imagePayload struct {
	Data string `json:"data"`
	Mime string `json:"mime"`
}

type suggestRequest struct {
	Images     []imagePayload `json:"images"`
	Themes     []string       `json:"themes"`
	TemplateID string         `json:"template_id,omitempty"`
}

type suggestResponse struct {
	Prompts []string `json:"prompts"`
}

type generateRequest struct {
	Images []imagePayload `json:"images"`
	Prompt string         `json:"prompt"`
	Mode   string         `json:"mode"`
}

type generateResponse struct {
	ImageURL *string `json:"image_url"`
}

// SuggestPrompts asks the backend for prompt ideas matching the reference
// images and themes. A bearer credential is required; its absence is fatal
// and never retried.
func (c *Client) SuggestPrompts(ctx context.Context, token string, images []models.ReferenceImage, themes []string, templateID string) ([]string, error) {
	if token == "" {
		return nil, &APIError{Kind: KindUnauthenticated, Message: "missing bearer credential"}
	}

	payload := suggestRequest{
		Images:     encodeImages(images),
		Themes:     themes,
		TemplateID: templateID,
	}

	return retry.Do(ctx, c.retryCfg, c.log, "suggest_prompts", Classify, func(ctx context.Context) ([]string, error) {
		var out suggestResponse
		if err := c.post(ctx, "/suggest-prompts", token, payload, &out); err != nil {
			return nil, err
		}
		return out.Prompts, nil
	})
}

// GenerateImage renders a single image for the prompt. It returns an empty
// URL when the backend reports no result. Guests may call it without a
// bearer token; the function key alone authorizes the test drive.
func (c *Client) GenerateImage(ctx context.Context, token string, images []models.ReferenceImage, prompt string, mode models.GenerationMode) (string, error) {
	payload := generateRequest{
		Images: encodeImages(images),
		Prompt: prompt,
		Mode:   string(mode),
	}

	return retry.Do(ctx, c.retryCfg, c.log, "generate_image", Classify, func(ctx context.Context) (string, error) {
		var out generateResponse
		if err := c.post(ctx, "/generate-image", token, payload, &out); err != nil {
			return "", err
		}
		if out.ImageURL == nil {
			return "", nil
		}
		return *out.ImageURL, nil
	})
}

// FetchImage downloads a generated image so it can be mirrored into durable
// storage. Returns the bytes and content type.
func (c *Client) FetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch image: status=%d url=%s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Healthy probes the backend with a short deadline. The workflow uses it as
// its reachability precondition before any generation attempt.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500
}

func (c *Client) post(ctx context.Context, path, token string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{
			Kind:    KindFromStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: truncateBody(rawBody),
		}
		// Some overload conditions surface as 500s with an explicit message.
		if apiErr.Kind == KindServer && isOverloadMessage(apiErr.Message) {
			apiErr.Kind = KindOverloaded
		}
		if c.log != nil {
			c.log.Error("generation backend call failed",
				"path", path,
				"status", resp.StatusCode,
				"kind", apiErr.Kind,
				"body", apiErr.Message)
		}
		return apiErr
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, truncateBody(rawBody))
	}
	return nil
}

func encodeImages(images []models.ReferenceImage) []imagePayload {
	out := make([]imagePayload, 0, len(images))
	for _, img := range images {
		out = append(out, imagePayload{
			Data: base64.StdEncoding.EncodeToString(img.Data),
			Mime: img.Mime,
		})
	}
	return out
}

func isOverloadMessage(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "overload") || strings.Contains(lower, "capacity")
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
