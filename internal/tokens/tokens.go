// Package tokens estimates the prompt-token size of memory content.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token counts.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// Approx is the 4-bytes-per-token heuristic, rounded up.
var Approx = CounterFunc(func(text string) int {
	return (len(text) + 3) / 4
})

// Tiktoken counts with a BPE encoding. The encoding is loaded lazily on first
// use; if it cannot be loaded (no cached ranks, no network) Approx is used.
type Tiktoken struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktoken returns a counter for the named encoding ("cl100k_base" if empty).
func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &Tiktoken{encoding: encoding}
}

// Count returns the token count of text.
func (t *Tiktoken) Count(text string) int {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.encoding)
	})
	if t.err != nil {
		return Approx(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Err reports why the BPE encoding is unavailable, if it is.
func (t *Tiktoken) Err() error {
	return t.err
}

// Sum adds up the token counts of texts.
func Sum(c Counter, texts ...string) int {
	n := 0
	for _, s := range texts {
		n += c.Count(s)
	}
	return n
}
