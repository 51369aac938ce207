package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_Chat(t *testing.T) {
	var gotReferer, gotTitle string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "SELECT 1", "role": "assistant"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIOptions{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "llama-3.1-70b-versatile",
		SiteURL: "https://example.test",
		AppName: "dbrag",
	})
	require.NoError(t, err)

	out, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)
	assert.Equal(t, "https://example.test", gotReferer)
	assert.Equal(t, "dbrag", gotTitle)
}

func TestOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIOptions{})
	assert.Error(t, err)
}

func TestOpenAIEmbedder_PreservesInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// returned out of order on purpose
		w.Write([]byte(`{
			"object": "list",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"model": "text-embedding-3-small"
		}`))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(OpenAIOptions{BaseURL: server.URL, APIKey: "k"})
	require.NoError(t, err)

	vecs, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOllamaProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": {"role": "assistant", "content": "select * from users"}, "done": true}`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "llama3")
	require.NoError(t, err)

	out, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "select * from users", out)
}

func TestOllamaEmbedder_Batch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, []string{"x", "y"}, req.Input)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model": "nomic-embed-text", "embeddings": [[0.5, 0.5], [1, 0]]}`))
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(server.URL, "")
	require.NoError(t, err)

	vecs, err := e.EmbedDocuments(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}, {1, 0}}, vecs)
}

type countingEmbedder struct {
	calls []string
	fail  string
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == c.fail {
		return nil, errors.New("backend down")
	}
	c.calls = append(c.calls, text)
	return []float32{float32(len(c.calls))}, nil
}

func TestQueryOnly_FallsBackPerItem(t *testing.T) {
	q := &countingEmbedder{}
	vecs, err := QueryOnly(q).EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, q.calls)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vecs)
}

func TestQueryOnly_StopsOnError(t *testing.T) {
	q := &countingEmbedder{fail: "b"}
	_, err := QueryOnly(q).EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	assert.ErrorContains(t, err, "backend down")
}

type fixedProvider struct{ out string }

func (p fixedProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	return p.out, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" Fake ", func(ctx context.Context, model string) (Provider, error) {
		return fixedProvider{out: model}, nil
	})
	reg.RegisterEmbedder("fake", func(ctx context.Context, model string) (TextEmbedder, error) {
		return QueryOnly(&countingEmbedder{}), nil
	})

	p, err := reg.Get(context.Background(), "FAKE", "m1")
	require.NoError(t, err)
	out, _ := p.Chat(context.Background(), nil)
	assert.Equal(t, "m1", out)

	_, err = reg.GetEmbedder(context.Background(), "fake", "")
	require.NoError(t, err)

	_, err = reg.Get(context.Background(), "missing", "")
	assert.Error(t, err)
	assert.Equal(t, []string{"fake"}, reg.Names())
}
