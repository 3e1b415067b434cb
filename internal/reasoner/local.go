package reasoner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/rcliao/memgraph/internal/model"
)

// Local is an offline Reasoner built on lexical heuristics. It is
// deterministic and never fails, which makes it the default when no LLM
// provider is configured.
type Local struct {
	MaxKeywords int
}

// NewLocal returns a Local reasoner extracting up to 8 keywords.
func NewLocal() *Local {
	return &Local{MaxKeywords: 8}
}

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true, "from": true,
	"have": true, "has": true, "was": true, "were": true, "are": true, "for": true,
	"but": true, "not": true, "you": true, "your": true, "they": true, "them": true,
	"their": true, "there": true, "what": true, "when": true, "which": true, "will": true,
	"would": true, "could": true, "should": true, "about": true, "into": true, "than": true,
	"then": true, "been": true, "being": true, "also": true, "just": true, "very": true,
	"some": true, "more": true, "most": true, "such": true, "only": true, "over": true,
}

var (
	positiveWords = map[string]bool{
		"love": true, "loves": true, "like": true, "likes": true, "happy": true, "great": true,
		"enjoy": true, "enjoys": true, "excited": true, "good": true, "proud": true, "glad": true,
	}
	negativeWords = map[string]bool{
		"hate": true, "hates": true, "sad": true, "angry": true, "afraid": true, "bad": true,
		"worried": true, "upset": true, "dislike": true, "dislikes": true, "lost": true, "sick": true,
	}
	dominantWords = map[string]bool{
		"must": true, "always": true, "never": true, "decided": true, "insist": true, "will": true,
	}
	submissiveWords = map[string]bool{
		"maybe": true, "perhaps": true, "unsure": true, "might": true, "confused": true, "helpless": true,
	}
)

// terms lower-cases and splits text on anything that is not a letter or digit.
func terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '#'
	})
}

func termSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, t := range terms(text) {
		t = strings.TrimLeft(t, "#")
		if len(t) >= 3 && !stopwords[t] {
			set[t] = true
		}
	}
	return set
}

func (l *Local) ExtractAttributes(_ context.Context, text string) (Attributes, error) {
	counts := map[string]int{}
	var tags []string
	var pos, neg, dom, sub float64
	for _, t := range terms(text) {
		if strings.HasPrefix(t, "#") {
			if tag := strings.TrimLeft(t, "#"); tag != "" {
				tags = append(tags, tag)
			}
			continue
		}
		switch {
		case positiveWords[t]:
			pos++
		case negativeWords[t]:
			neg++
		}
		switch {
		case dominantWords[t]:
			dom++
		case submissiveWords[t]:
			sub++
		}
		if len(t) >= 4 && !stopwords[t] {
			counts[t]++
		}
	}

	keywords := make([]string, 0, len(counts))
	for k := range counts {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if l.MaxKeywords > 0 && len(keywords) > l.MaxKeywords {
		keywords = keywords[:l.MaxKeywords]
	}

	exclaims := float64(strings.Count(text, "!"))
	vad := model.VAD{
		Valence:   ratio(pos-neg, pos+neg),
		Arousal:   math.Tanh(exclaims/2 + (pos+neg)/4),
		Dominance: ratio(dom-sub, dom+sub),
	}
	return Attributes{VAD: vad.Clamp(), Keywords: keywords, Tags: tags}, nil
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// ScoreLink rates two texts by the Jaccard overlap of their content terms.
func (l *Local) ScoreLink(_ context.Context, textA, textB string) (LinkScore, error) {
	a, b := termSet(textA), termSet(textB)
	var shared []string
	for t := range a {
		if b[t] {
			shared = append(shared, t)
		}
	}
	union := len(a) + len(b) - len(shared)
	if union == 0 || len(shared) == 0 {
		return LinkScore{Strength: 0, Reason: "no shared terms"}, nil
	}
	sort.Strings(shared)
	if len(shared) > 5 {
		shared = shared[:5]
	}
	// sqrt lifts moderate overlaps so a few shared terms between short texts counts.
	strength := math.Sqrt(float64(len(shared)) / float64(union))
	return LinkScore{
		Strength: strength,
		Reason:   fmt.Sprintf("shared terms: %s", strings.Join(shared, ", ")),
	}, nil
}

// Summarize keeps the first sentence of each text, skipping repeats.
func (l *Local) Summarize(_ context.Context, texts []string) (string, error) {
	seen := map[string]bool{}
	var parts []string
	for _, t := range texts {
		s := firstSentence(t)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		parts = append(parts, s)
	}
	return strings.Join(parts, " "), nil
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?\n"); i >= 0 {
		s := strings.TrimSpace(text[:i+1])
		if !strings.ContainsAny(s[len(s)-1:], ".!?") {
			s += "."
		}
		return s
	}
	return text
}

// SemanticRelevance is the fraction of query terms found in text.
func (l *Local) SemanticRelevance(_ context.Context, query, text string) (float64, error) {
	q := termSet(query)
	if len(q) == 0 {
		return 0, nil
	}
	t := termSet(text)
	hits := 0
	for term := range q {
		if t[term] {
			hits++
		}
	}
	return float64(hits) / float64(len(q)), nil
}
