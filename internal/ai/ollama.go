package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3:latest"
	defaultOllamaEmbed   = "nomic-embed-text"
)

func newOllamaClient(baseURL string) (*api.Client, error) {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: bad base url %q: %w", baseURL, err)
	}
	return api.NewClient(u, &http.Client{Timeout: 90 * time.Second}), nil
}

type OllamaProvider struct {
	client *api.Client
	model  string
}

func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	client, err := newOllamaClient(baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{client: client, model: model}, nil
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	apiMsgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMsgs = append(apiMsgs, api.Message{Role: m.Role, Content: m.Content})
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: apiMsgs,
		Stream:   new(bool),
		Options:  map[string]any{"temperature": 0},
	}

	var b strings.Builder
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return b.String(), nil
}

// OllamaEmbedder uses /api/embed, which takes a list of inputs.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

func NewOllamaEmbedder(baseURL, model string) (*OllamaEmbedder, error) {
	client, err := newOllamaClient(baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOllamaEmbed
	}
	return &OllamaEmbedder{client: client, model: model}, nil
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, errors.New("ollama: embedding count does not match input count")
	}
	return resp.Embeddings, nil
}
