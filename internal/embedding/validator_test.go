package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/veilwork/flowbridge/internal/fault"
)

// stubProvider returns a fixed-width vector and counts calls.
type stubProvider struct {
	dim   int
	err   error
	calls int
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func TestValidateDimensionMatch(t *testing.T) {
	p := &stubProvider{dim: 1536}

	dim, warn, err := ValidateDimension(context.Background(), p, "test-model", 1536)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dim != 1536 {
		t.Errorf("got dimension %d, want 1536", dim)
	}
	if warn != nil {
		t.Errorf("fast path must not warn, got %v", warn)
	}
	if p.calls != 1 {
		t.Errorf("got %d probe calls, want exactly 1", p.calls)
	}
}

func TestValidateDimensionMismatchPrefersObserved(t *testing.T) {
	// Declared 1536, model actually produces 1024 (a Titan-v2-class model).
	p := &stubProvider{dim: 1024}

	dim, warn, err := ValidateDimension(context.Background(), p, "amazon.titan-embed-text-v2:0", 1536)
	if err != nil {
		t.Fatalf("mismatch must not fail the flow, got %v", err)
	}
	if dim != 1024 {
		t.Errorf("got dimension %d, want observed 1024", dim)
	}
	if warn == nil {
		t.Fatal("expected a mismatch warning")
	}
	if warn.Declared != 1536 || warn.Observed != 1024 {
		t.Errorf("warning carries %d/%d, want 1536/1024", warn.Declared, warn.Observed)
	}
}

func TestValidateDimensionProbeFailed(t *testing.T) {
	p := &stubProvider{err: fmt.Errorf("connection refused")}

	_, _, err := ValidateDimension(context.Background(), p, "test-model", 1536)
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) {
		t.Fatalf("got %v, want ProbeError", err)
	}
	if probeErr.ModelID != "test-model" {
		t.Errorf("got model %q in error, want test-model", probeErr.ModelID)
	}
}

func TestValidateDimensionEmptyResult(t *testing.T) {
	p := &stubProvider{dim: 0}

	_, _, err := ValidateDimension(context.Background(), p, "test-model", 1536)
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) {
		t.Fatalf("got %v, want ProbeError for empty vector", err)
	}
}

func TestValidateDimensionTimeout(t *testing.T) {
	p := &stubProvider{err: fmt.Errorf("post: %w", context.DeadlineExceeded)}

	_, _, err := ValidateDimension(context.Background(), p, "test-model", 1536)
	if !fault.IsTimeout(err) {
		t.Fatalf("got %v, want timeout kind", err)
	}
	var probeErr *ProbeError
	if errors.As(err, &probeErr) {
		t.Error("timeout must not be reported as ProbeFailed")
	}
}

func TestValidateDimensionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubProvider{err: context.Canceled}

	_, _, err := ValidateDimension(ctx, p, "test-model", 1536)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestValidateDimensionRejectsNonPositive(t *testing.T) {
	p := &stubProvider{dim: 8}
	if _, _, err := ValidateDimension(context.Background(), p, "test-model", 0); err == nil {
		t.Fatal("expected error for non-positive declared dimension")
	}
	if p.calls != 0 {
		t.Error("no probe call should happen for invalid input")
	}
}
