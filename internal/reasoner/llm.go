package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rcliao/memgraph/internal/embedding"
	"github.com/rcliao/memgraph/internal/model"
)

// Completer sends one system+user prompt to a chat model and returns its text.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLM is a Reasoner driven by a chat model. When an Embedder is set,
// SemanticRelevance uses embedding similarity instead of a prompt.
type LLM struct {
	completer Completer
	embedder  embedding.Embedder
}

// NewLLM builds an LLM reasoner. embedder may be nil.
func NewLLM(c Completer, embedder embedding.Embedder) *LLM {
	return &LLM{completer: c, embedder: embedder}
}

const systemPrompt = `You annotate entries of a personal long-term memory store.
Answer with exactly what is asked. When JSON is requested, return one JSON object and nothing else.`

func (l *LLM) ExtractAttributes(ctx context.Context, text string) (Attributes, error) {
	prompt := `Rate the emotional tone of the memory below on three axes, each a number in [-1, 1]:
valence (unpleasant..pleasant), arousal (calm..excited), dominance (controlled..in control).
Also list up to 8 lowercase keywords and up to 5 short topical tags.
Return {"vad":{"valence":0,"arousal":0,"dominance":0},"keywords":[],"tags":[]}.

Memory:
` + text
	var out Attributes
	if err := l.completeJSON(ctx, prompt, &out); err != nil {
		return Attributes{}, err
	}
	return out, nil
}

func (l *LLM) ScoreLink(ctx context.Context, textA, textB string) (LinkScore, error) {
	prompt := `How strongly are these two memories related? Give a strength in [0, 1] and a one-sentence reason.
Return {"strength":0.0,"reason":""}.

Memory A:
` + textA + `

Memory B:
` + textB
	var out LinkScore
	if err := l.completeJSON(ctx, prompt, &out); err != nil {
		return LinkScore{}, err
	}
	return out, nil
}

func (l *LLM) Summarize(ctx context.Context, texts []string) (string, error) {
	var b strings.Builder
	b.WriteString("Merge the following memories into one concise memory that keeps every durable fact. ")
	b.WriteString("Reply with the merged text only.\n\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	out, err := l.completer.Complete(ctx, systemPrompt, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (l *LLM) SemanticRelevance(ctx context.Context, query, text string) (float64, error) {
	if l.embedder != nil {
		q, err := l.embedder.Embed(ctx, query)
		if err != nil {
			return 0, err
		}
		t, err := l.embedder.Embed(ctx, text)
		if err != nil {
			return 0, err
		}
		return embedding.Relevance(q, t), nil
	}

	prompt := "On a scale from 0 to 1, how relevant is this memory to the query? Reply with the number only.\n\nQuery: " +
		query + "\n\nMemory: " + text
	out, err := l.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse relevance %q: %w", out, err)
	}
	if !model.Finite(v) {
		return 0, fmt.Errorf("relevance %q is not a finite number", out)
	}
	return v, nil
}

func (l *LLM) completeJSON(ctx context.Context, prompt string, v any) error {
	out, err := l.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return err
	}
	obj, err := extractJSON(out)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}

// extractJSON returns the outermost {...} block; models often wrap JSON in prose or fences.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errors.New("model reply contains no JSON object")
	}
	return s[start : end+1], nil
}
