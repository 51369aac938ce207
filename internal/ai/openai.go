package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Base URLs of OpenAI-compatible services.
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAIOptions configures any OpenAI-compatible endpoint (OpenAI, Groq,
// OpenRouter). SiteURL and AppName are sent as OpenRouter attribution headers.
type OpenAIOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Timeout time.Duration
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func newOpenAIClient(o OpenAIOptions) (*openai.Client, error) {
	if strings.TrimSpace(o.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(o.BaseURL, "/")
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	headers := map[string]string{}
	if o.SiteURL != "" {
		headers["HTTP-Referer"] = o.SiteURL
	}
	if o.AppName != "" {
		headers["X-Title"] = o.AppName
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
	}
	return openai.NewClientWithConfig(cfg), nil
}

type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(o OpenAIOptions) (*OpenAIProvider, error) {
	client, err := newOpenAIClient(o)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(o.Model)
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{client: client, model: model}, nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	reqMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		reqMsgs = append(reqMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    reqMsgs,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbedder calls the /embeddings endpoint, which accepts batches natively.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIEmbedder(o OpenAIOptions) (*OpenAIEmbedder, error) {
	client, err := newOpenAIClient(o)
	if err != nil {
		return nil, err
	}
	model := openai.EmbeddingModel(strings.TrimSpace(o.Model))
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &OpenAIEmbedder{client: client, model: model}, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}
