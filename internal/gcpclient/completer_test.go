package gcpclient

import (
	"context"
	"errors"
	"testing"
)

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, _, _ string) (string, error) {
	return f.text, f.err
}

func TestPromptCompleter_UsesPrimaryWhenHealthy(t *testing.T) {
	c := NewPromptCompleter(&fakeGenerator{text: "primary answer"}, &fakeGenerator{text: "fallback answer"}, nil)

	got, err := c.Complete(context.Background(), "what's the status of AWSBH001?")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if got != "primary answer" {
		t.Errorf("got = %q, want %q", got, "primary answer")
	}
}

func TestPromptCompleter_FallsBackOnPrimaryError(t *testing.T) {
	c := NewPromptCompleter(&fakeGenerator{err: errors.New("vertex unavailable")}, &fakeGenerator{text: "fallback answer"}, nil)

	got, err := c.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if got != "fallback answer" {
		t.Errorf("got = %q, want %q", got, "fallback answer")
	}
}

func TestPromptCompleter_ErrorsWhenNoGeneratorsConfigured(t *testing.T) {
	c := NewPromptCompleter(nil, nil, nil)

	if _, err := c.Complete(context.Background(), "prompt"); err == nil {
		t.Fatal("expected an error with no generators configured")
	}
}
