// Package gemini implements extraction.Model on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/example/formreader/internal/config"
	"github.com/example/formreader/internal/extraction"
	"github.com/example/formreader/internal/formimage"
)

// Model sends generateContent requests for one fixed model.
type Model struct {
	client *genai.Client
	name   string
}

// Option adjusts the genai client configuration.
type Option func(*genai.ClientConfig)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(url string) Option {
	return func(cc *genai.ClientConfig) {
		cc.HTTPOptions.BaseURL = url
	}
}

// WithHTTPClient replaces the transport used for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(cc *genai.ClientConfig) {
		cc.HTTPClient = client
	}
}

// Factory returns an extraction.ModelFactory building Models with opts.
func Factory(opts ...Option) extraction.ModelFactory {
	return func(ctx context.Context, cfg config.Config) (extraction.Model, error) {
		return New(ctx, cfg, opts...)
	}
}

// New opens a client for cfg.Model using cfg.APIKey.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Model, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cc)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %v", extraction.ErrAuth, err)
		}
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Model{client: client, name: cfg.Model}, nil
}

// Generate sends prompt and image as two ordered parts of one user turn.
func (m *Model) Generate(ctx context.Context, prompt string, img *formimage.Image) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(img.Data, img.MIMEType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := m.client.Models.GenerateContent(ctx, m.name, contents, nil)
	if err != nil {
		return "", classify(err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", extraction.ErrEmptyResponse, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", extraction.ErrEmptyResponse
	}
	return resp.Text(), nil
}

// classify wraps API errors with the matching extraction failure class.
func classify(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusUnauthorized,
		apiErr.Code == http.StatusForbidden,
		// An invalid key is reported as INVALID_ARGUMENT.
		apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "API key"):
		return fmt.Errorf("%w: %w", extraction.ErrAuth, err)
	case apiErr.Code == http.StatusTooManyRequests, apiErr.Status == "RESOURCE_EXHAUSTED":
		return fmt.Errorf("%w: %w", extraction.ErrQuota, err)
	default:
		return err
	}
}
