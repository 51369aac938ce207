package ai

import (
	"context"
	"fmt"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a chat completion backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// QueryEmbedder embeds one text at a time.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TextEmbedder embeds single queries and batches of documents. Backends
// without a batch endpoint are adapted with QueryOnly.
type TextEmbedder interface {
	QueryEmbedder
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type queryOnly struct {
	QueryEmbedder
}

// QueryOnly turns a single-text embedder into a TextEmbedder whose batch
// call embeds each text in order.
func QueryOnly(q QueryEmbedder) TextEmbedder {
	return queryOnly{q}
}

func (q queryOnly) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return EmbedEach(ctx, q.QueryEmbedder, texts)
}

// EmbedEach is the per-item fallback for batch embedding.
func EmbedEach(ctx context.Context, q QueryEmbedder, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, t := range texts {
		v, err := q.EmbedQuery(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed item %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
