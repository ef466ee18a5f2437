package reasoner

import (
	"context"
	"errors"
	"fmt"

	"vigil/pkg/protocol"

	"google.golang.org/genai"
)

// errEmptyResponse is returned when Gemini answers without content.
var errEmptyResponse = errors.New("empty response")

// GeminiBackend is a large-context reasoning backend on the Gemini API.
type GeminiBackend struct {
	id    string
	model string
	cli   *genai.Client
}

// NewGeminiBackend creates a client with the given API key.
func NewGeminiBackend(ctx context.Context, id, model, apiKey string) (*GeminiBackend, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiBackend{id: id, model: model, cli: cli}, nil
}

// ID implements Backend.
func (g *GeminiBackend) ID() string { return g.id }

// Request asks Gemini for a JSON proposal.
func (g *GeminiBackend) Request(ctx context.Context, items []protocol.WorkspaceItem) (Proposal, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: BuildPrompt(items)}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return Proposal{}, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Proposal{}, &PermanentError{Err: errEmptyResponse}
	}
	return ParseProposal(resp.Candidates[0].Content.Parts[0].Text)
}

// Probe fetches the model metadata.
func (g *GeminiBackend) Probe(ctx context.Context) error {
	if _, err := g.cli.Models.Get(ctx, g.model, nil); err != nil {
		return fmt.Errorf("gemini model %s: %w", g.model, err)
	}
	return nil
}
