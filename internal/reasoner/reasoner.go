// Package reasoner is the boundary to the external reasoning service that
// extracts attributes, scores links, summarizes and rates relevance.
package reasoner

import (
	"context"

	"github.com/rcliao/memgraph/internal/model"
)

// Attributes are the enrichment values extracted from a memory's text.
type Attributes struct {
	VAD      model.VAD `json:"vad"`
	Keywords []string  `json:"keywords"`
	Tags     []string  `json:"tags"`
}

// LinkScore is the scored relation between two texts.
type LinkScore struct {
	Strength float64 `json:"strength"`
	Reason   string  `json:"reason"`
}

// Reasoner is the external reasoning collaborator. All calls are safe to retry.
type Reasoner interface {
	ExtractAttributes(ctx context.Context, text string) (Attributes, error)
	ScoreLink(ctx context.Context, textA, textB string) (LinkScore, error)
	Summarize(ctx context.Context, texts []string) (string, error)
	SemanticRelevance(ctx context.Context, query, text string) (float64, error)
}
