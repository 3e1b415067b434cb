package reasoner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/observe"
)

// DefaultTimeout bounds every external call.
const DefaultTimeout = 10 * time.Second

// Guarded applies a per-call timeout, maps every failure to
// model.ErrExternalService and range-checks returned values.
type Guarded struct {
	inner   Reasoner
	timeout time.Duration
	obs     *observe.Observer
}

// Guard wraps r. A non-positive timeout means DefaultTimeout.
func Guard(r Reasoner, timeout time.Duration, obs *observe.Observer) *Guarded {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guarded{inner: r, timeout: timeout, obs: observe.OrDiscard(obs)}
}

type result[T any] struct {
	v   T
	err error
}

// guarded runs fn on its own goroutine so a backend that ignores ctx still
// cannot hold the caller past the timeout.
func guarded[T any](ctx context.Context, g *Guarded, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := g.obs.StartSpan(ctx, "reasoner."+name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{v: v, err: err}
	}()

	var r result[T]
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if r.err == nil {
		return r.v, nil
	}

	var zero T
	err := r.err
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", g.timeout, err)
	}
	err = model.External(name, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "reasoner call failed")
	g.obs.Log().Warn().Str("call", name).Err(err).Msg("reasoner call failed")
	return zero, err
}

func (g *Guarded) ExtractAttributes(ctx context.Context, text string) (Attributes, error) {
	return guarded(ctx, g, "extract_attributes", func(ctx context.Context) (Attributes, error) {
		a, err := g.inner.ExtractAttributes(ctx, text)
		if err != nil {
			return Attributes{}, err
		}
		return Attributes{
			VAD:      a.VAD.Clamp(),
			Keywords: model.NormalizeTerms(a.Keywords),
			Tags:     model.NormalizeTerms(a.Tags),
		}, nil
	})
}

func (g *Guarded) ScoreLink(ctx context.Context, textA, textB string) (LinkScore, error) {
	return guarded(ctx, g, "score_link", func(ctx context.Context) (LinkScore, error) {
		s, err := g.inner.ScoreLink(ctx, textA, textB)
		if err != nil {
			return LinkScore{}, err
		}
		return LinkScore{Strength: model.Clamp01(s.Strength), Reason: s.Reason}, nil
	})
}

func (g *Guarded) Summarize(ctx context.Context, texts []string) (string, error) {
	return guarded(ctx, g, "summarize", func(ctx context.Context) (string, error) {
		s, err := g.inner.Summarize(ctx, texts)
		if err != nil {
			return "", err
		}
		if s == "" {
			return "", errors.New("empty summary")
		}
		return s, nil
	})
}

func (g *Guarded) SemanticRelevance(ctx context.Context, query, text string) (float64, error) {
	return guarded(ctx, g, "semantic_relevance", func(ctx context.Context) (float64, error) {
		r, err := g.inner.SemanticRelevance(ctx, query, text)
		if err != nil {
			return 0, err
		}
		return model.Clamp01(r), nil
	})
}
