// Package gemini generates diagram actions with Google Gemini through the
// google.golang.org/genai SDK, asking for a JSON response.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/voiceboard/pkg/core/reasoner"
)

const (
	DefaultModel     = "gemini-2.5-flash"
	DefaultMaxTokens = 4096
)

// Provider implements reasoner.Generator against the Gemini API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int32
	httpClient *http.Client

	once    sync.Once
	client  *genai.Client
	initErr error
}

var _ reasoner.Generator = (*Provider)(nil)

// New creates a new Gemini provider. The SDK client is built lazily on the
// first call.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Model returns the configured model id.
func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) sdk(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		if p.apiKey == "" {
			p.initErr = errors.New("gemini: api key is required")
			return
		}
		cfg := &genai.ClientConfig{
			APIKey:     p.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: p.httpClient,
		}
		if p.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
		}
		p.client, p.initErr = genai.NewClient(ctx, cfg)
	})
	return p.client, p.initErr
}

// Generate sends one JSON-mode GenerateContent call.
func (p *Provider) Generate(ctx context.Context, prompt reasoner.Prompt) (string, error) {
	client, err := p.sdk(ctx)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
		MaxOutputTokens:  p.maxTokens,
	}
	if prompt.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}

	resp, err := client.Models.GenerateContent(ctx, p.model, buildContents(prompt), cfg)
	if err != nil {
		return "", mapError(err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini: empty response")
	}
	return text, nil
}

func buildContents(prompt reasoner.Prompt) []*genai.Content {
	out := make([]*genai.Content, 0, len(prompt.Turns))
	for _, t := range prompt.Turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == reasoner.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Content, role))
	}
	return out
}
