package observe

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestObserver_Log(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, true)

	obs.Log().Info().Str("owner", "u1").Msg("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("expected output to contain 'test message', got %q", buf.String())
	}
}

func TestObserver_QuietHidesInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := NewJSON(buf, false)

	obs.Log().Info().Msg("hidden")
	obs.Log().Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered when not verbose, got %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("expected warning in output, got %q", out)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("expected non-nil observer")
	}
	obs := New(&bytes.Buffer{}, false)
	if OrDiscard(obs) != obs {
		t.Error("expected the same observer back")
	}
}

func TestObserver_StartSpan(t *testing.T) {
	obs := Discard()
	ctx, span := obs.StartSpan(context.Background(), "test-span", "owner", "u1")
	if ctx == nil {
		t.Fatal("expected non-nil context from StartSpan")
	}
	span.End()
}
