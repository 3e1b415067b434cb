package reasoner

import (
	"fmt"

	"github.com/rcliao/memgraph/internal/config"
	"github.com/rcliao/memgraph/internal/embedding"
	"github.com/rcliao/memgraph/internal/observe"
)

// FromConfig builds the configured backend wrapped in a timeout Guard.
func FromConfig(cfg config.ReasonerConfig, obs *observe.Observer) (*Guarded, error) {
	var r Reasoner
	switch cfg.Provider {
	case "", "local":
		r = NewLocal()
	case "anthropic":
		c, err := NewAnthropicCompleter(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		// Anthropic has no embeddings endpoint; relevance falls back to a prompt.
		r = NewLLM(c, nil)
	case "openai":
		c, err := NewOpenAICompleter(cfg.APIKey, cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, err
		}
		var emb embedding.Embedder
		if cfg.EmbedModel != "" {
			if emb, err = embedding.NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.EmbedModel, 0); err != nil {
				return nil, err
			}
		}
		r = NewLLM(c, emb)
	case "ollama":
		c, err := NewOllamaCompleter(cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, err
		}
		var emb embedding.Embedder
		if cfg.EmbedModel != "" {
			if emb, err = embedding.NewOllamaEmbedder(cfg.BaseURL, cfg.EmbedModel); err != nil {
				return nil, err
			}
		}
		r = NewLLM(c, emb)
	default:
		return nil, fmt.Errorf("unknown reasoner provider %q", cfg.Provider)
	}
	return Guard(r, cfg.Timeout, obs), nil
}
