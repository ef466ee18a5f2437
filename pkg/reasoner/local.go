package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"vigil/pkg/protocol"
)

// LocalBackend talks to a local model server speaking the Ollama HTTP API.
type LocalBackend struct {
	id      string
	baseURL string
	model   string
	client  *http.Client
}

// NewLocalBackend creates a backend for the server at baseURL.
func NewLocalBackend(id, baseURL, model string) *LocalBackend {
	return &LocalBackend{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

// ID implements Backend.
func (l *LocalBackend) ID() string { return l.id }

// ollamaGenerateRequest is the JSON body for /api/generate.
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

// ollamaGenerateResponse is the non-streaming /api/generate response.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Request asks the model for a proposal.
func (l *LocalBackend) Request(ctx context.Context, items []protocol.WorkspaceItem) (Proposal, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  l.model,
		Prompt: BuildPrompt(items),
		Format: "json",
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Proposal{}, fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Proposal{}, fmt.Errorf("generate request failed (is the model server running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("generate returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return Proposal{}, &PermanentError{Err: err}
		}
		return Proposal{}, err
	}

	var gen ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return Proposal{}, fmt.Errorf("decode generate response: %w", err)
	}
	return ParseProposal(gen.Response)
}

// Probe lists installed models, which is cheap and proves the server is up.
func (l *LocalBackend) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create tags request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("tags request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tags returned status %d", resp.StatusCode)
	}
	return nil
}
