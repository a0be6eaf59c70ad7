package llm

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"

	"google.golang.org/genai"

	"agentcanvas/backend/pkg/models"
)

// GeminiOptions configures GeminiProvider.
type GeminiOptions struct {
	APIKey  string
	BaseURL string // empty for the public endpoint
	Timeout time.Duration
}

// GeminiProvider streams completions from the Gemini API.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a GeminiProvider.
func NewGeminiProvider(ctx context.Context, opts GeminiOptions) (*GeminiProvider, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Stream implements Provider.
func (p *GeminiProvider) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		config := &genai.GenerateContentConfig{}
		if req.SystemPrompt != "" {
			config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
		}

		for result, err := range p.client.Models.GenerateContentStream(ctx, req.Model, geminiContents(req.Messages), config) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			for _, text := range geminiTexts(result) {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// geminiContents maps the history onto Gemini roles, merging consecutive turns
// of the same role into one content as the API requires alternation.
func geminiContents(messages []models.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, &genai.Part{Text: msg.Content})
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

// geminiTexts returns the visible text parts of a streamed chunk. Thought
// parts are skipped.
func geminiTexts(result *genai.GenerateContentResponse) []string {
	if result == nil || len(result.Candidates) == 0 {
		return nil
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil {
		return nil
	}
	var texts []string
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		texts = append(texts, part.Text)
	}
	return texts
}
