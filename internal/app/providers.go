package app

import (
	"context"

	"github.com/suPer8Hu/dbrag/internal/ai"
	"github.com/suPer8Hu/dbrag/internal/config"
)

// NewRegistry registers every chat and embedding backend dbrag can be
// configured with. Factories only fail on use, e.g. for a missing API key.
func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	openAICompatible := func(o ai.OpenAIOptions) ai.ProviderFactory {
		return func(ctx context.Context, model string) (ai.Provider, error) {
			o.Model = model
			o.Timeout = cfg.LLM.Timeout
			p, err := ai.NewOpenAIProvider(o)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	reg.Register("openai", openAICompatible(ai.OpenAIOptions{BaseURL: cfg.OpenAI.BaseURL, APIKey: cfg.OpenAI.APIKey}))
	reg.Register("groq", openAICompatible(ai.OpenAIOptions{BaseURL: ai.GroqBaseURL, APIKey: cfg.Groq.APIKey}))
	reg.Register("openrouter", openAICompatible(ai.OpenAIOptions{
		BaseURL: ai.OpenRouterBaseURL,
		APIKey:  cfg.OpenRouter.APIKey,
		SiteURL: cfg.OpenRouter.SiteURL,
		AppName: cfg.OpenRouter.AppName,
	}))
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		p, err := ai.NewOllamaProvider(cfg.Ollama.BaseURL, model)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	reg.Register("gemini", func(ctx context.Context, model string) (ai.Provider, error) {
		p, err := ai.NewGeminiProvider(ctx, cfg.Gemini.APIKey, model)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterEmbedder("openai", func(ctx context.Context, model string) (ai.TextEmbedder, error) {
		e, err := ai.NewOpenAIEmbedder(ai.OpenAIOptions{BaseURL: cfg.OpenAI.BaseURL, APIKey: cfg.OpenAI.APIKey, Model: model})
		if err != nil {
			return nil, err
		}
		return e, nil
	})
	reg.RegisterEmbedder("ollama", func(ctx context.Context, model string) (ai.TextEmbedder, error) {
		e, err := ai.NewOllamaEmbedder(cfg.Ollama.BaseURL, model)
		if err != nil {
			return nil, err
		}
		return e, nil
	})
	reg.RegisterEmbedder("gemini", func(ctx context.Context, model string) (ai.TextEmbedder, error) {
		e, err := ai.NewGeminiEmbedder(ctx, cfg.Gemini.APIKey, model)
		if err != nil {
			return nil, err
		}
		return e, nil
	})
	return reg
}
