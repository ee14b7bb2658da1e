package embedding

import (
	"context"
	"fmt"

	"github.com/veilwork/flowbridge/internal/fault"
)

// probeText is the fixed input for dimension probes. Its content is
// irrelevant; only the length of the returned vector matters.
const probeText = "flowbridge dimension probe"

// MismatchWarning records a declared dimension that disagreed with the one a
// model actually produced. It is a value, not a log entry; the caller decides
// how to surface it.
type MismatchWarning struct {
	ModelID  string `json:"model_id"`
	Declared int    `json:"declared"`
	Observed int    `json:"observed"`
}

func (w *MismatchWarning) String() string {
	return fmt.Sprintf("model %s produced %d-dimensional vectors, configuration declared %d; using %d",
		w.ModelID, w.Observed, w.Declared, w.Observed)
}

// ProbeError means the probe embedding call itself failed. A dimension
// mismatch is not a ProbeError; it is corrected in place.
type ProbeError struct {
	ModelID string
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("embedding: probe with model %s failed: %v", e.ModelID, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ValidateDimension issues exactly one probe embedding through p and
// reconciles the declared dimension against the observed vector length.
// On agreement the declared value is returned with a nil warning. On
// disagreement the observed value wins and a warning describes both sides.
// Safe to call repeatedly; the single probe call is its only side effect.
func ValidateDimension(ctx context.Context, p Provider, modelID string, declared int) (int, *MismatchWarning, error) {
	if declared <= 0 {
		return 0, nil, fmt.Errorf("embedding: declared dimension must be positive, got %d", declared)
	}

	vectors, err := p.Embed(ctx, []string{probeText})
	if err != nil {
		if cerr := fault.Classify("embedding probe", err); fault.IsTimeout(cerr) {
			return 0, nil, cerr
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, &ProbeError{ModelID: modelID, Err: err}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, nil, &ProbeError{ModelID: modelID, Err: fmt.Errorf("empty embedding result")}
	}

	observed := len(vectors[0])
	if observed == declared {
		return declared, nil, nil
	}
	return observed, &MismatchWarning{
		ModelID:  modelID,
		Declared: declared,
		Observed: observed,
	}, nil
}
