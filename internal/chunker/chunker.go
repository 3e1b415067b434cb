// Package chunker splits memory content into passages for the full-text index.
package chunker

import (
	"strings"

	"github.com/rcliao/memgraph/internal/tokens"
)

// DefaultMaxTokens is the passage size used by the store.
const DefaultMaxTokens = 128

// Chunk is one indexed passage of a memory.
type Chunk struct {
	Seq  int
	Text string
}

// Split breaks text into passages of at most maxTokens each. Paragraphs are
// kept whole when they fit; longer ones are split between sentences, and a
// single over-long sentence is split between words.
func Split(text string, maxTokens int, counter tokens.Counter) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if counter == nil {
		counter = tokens.Approx
	}

	var pieces []string
	for _, para := range paragraphs(text) {
		if counter.Count(para) <= maxTokens {
			pieces = append(pieces, para)
			continue
		}
		for _, s := range sentences(para) {
			if counter.Count(s) <= maxTokens {
				pieces = append(pieces, s)
				continue
			}
			pieces = append(pieces, splitWords(s, maxTokens, counter)...)
		}
	}

	// Greedily pack neighbouring pieces back together.
	var out []Chunk
	var cur string
	for _, p := range pieces {
		if cur == "" {
			cur = p
			continue
		}
		if joined := cur + "\n" + p; counter.Count(joined) <= maxTokens {
			cur = joined
			continue
		}
		out = append(out, Chunk{Seq: len(out), Text: cur})
		cur = p
	}
	if cur != "" {
		out = append(out, Chunk{Seq: len(out), Text: cur})
	}
	return out
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sentences(para string) []string {
	var out []string
	start := 0
	for i := 0; i < len(para); i++ {
		switch para[i] {
		case '.', '!', '?', '\n':
			if i+1 == len(para) || para[i+1] == ' ' || para[i+1] == '\n' {
				if s := strings.TrimSpace(para[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(para[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWords(s string, maxTokens int, counter tokens.Counter) []string {
	var out []string
	var cur []string
	for _, w := range strings.Fields(s) {
		next := append(cur, w)
		if len(cur) > 0 && counter.Count(strings.Join(next, " ")) > maxTokens {
			out = append(out, strings.Join(cur, " "))
			cur = []string{w}
			continue
		}
		cur = next
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}
