package vectorstore

import (
	"context"
	"fmt"
	"regexp"
)

// DistanceStrategy selects the similarity metric for a vector table.
type DistanceStrategy int

const (
	DistanceCosine DistanceStrategy = iota + 1
	DistanceEuclidean
	DistanceDotProduct
)

func (d DistanceStrategy) String() string {
	switch d {
	case DistanceCosine:
		return "cosine"
	case DistanceEuclidean:
		return "euclidean"
	case DistanceDotProduct:
		return "dot_product"
	default:
		return "unknown"
	}
}

// ParseDistanceStrategy maps a configuration string to a DistanceStrategy.
func ParseDistanceStrategy(s string) (DistanceStrategy, error) {
	switch s {
	case "", "cosine":
		return DistanceCosine, nil
	case "euclidean":
		return DistanceEuclidean, nil
	case "dot_product":
		return DistanceDotProduct, nil
	default:
		return 0, fmt.Errorf("vectorstore: unknown distance strategy %q", s)
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableSpec describes a vector table to provision. Dimension must be the
// reconciled dimension from a successful probe, never the declared value
// alone when a probe succeeded.
type TableSpec struct {
	Name      string
	Dimension int
	Distance  DistanceStrategy
	// WalletRef is the opaque wallet reference the backend connection was
	// opened with; recorded for diagnostics only.
	WalletRef string
}

func (s TableSpec) validate() error {
	if !identRe.MatchString(s.Name) {
		return fmt.Errorf("vectorstore: invalid table name %q", s.Name)
	}
	if s.Dimension <= 0 {
		return fmt.Errorf("vectorstore: table %s: dimension must be positive, got %d", s.Name, s.Dimension)
	}
	return nil
}

// TableInfo reports what a backend knows about an existing table. Distance
// is zero when the backend cannot report the stored metric.
type TableInfo struct {
	Exists    bool
	Dimension int
	Distance  DistanceStrategy
}

// Document is one entry in a vector table: its content, optional metadata,
// and the embedding it is indexed under.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// ScoredDocument is a single search hit. Score follows the table's distance
// strategy with higher meaning closer.
type ScoredDocument struct {
	Document
	Score float32
}

// Store is the backend contract the provisioner drives: describe a table,
// create it at a given width, make sure its similarity index exists, and
// move documents in and out. EnsureIndex over an existing compatible index
// must be a no-op.
type Store interface {
	Describe(ctx context.Context, name string) (TableInfo, error)
	CreateTable(ctx context.Context, spec TableSpec) error
	EnsureIndex(ctx context.Context, spec TableSpec) error
	Upsert(ctx context.Context, spec TableSpec, docs []Document) error
	Search(ctx context.Context, spec TableSpec, vector []float32, limit int) ([]ScoredDocument, error)
}

// SchemaConflictError means a table already exists with a different vector
// width or distance metric than the provisioning request. Fatal: rewriting a
// live table risks data loss, so nothing is mutated.
type SchemaConflictError struct {
	Table     string
	Existing  int
	Requested int
	// Populated instead of the widths when the metrics disagree.
	ExistingDistance  DistanceStrategy
	RequestedDistance DistanceStrategy
}

func (e *SchemaConflictError) Error() string {
	if e.Existing != e.Requested {
		return fmt.Sprintf("vectorstore: table %s holds %d-dimensional vectors, provisioning requested %d; manual schema intervention required",
			e.Table, e.Existing, e.Requested)
	}
	return fmt.Sprintf("vectorstore: table %s uses %s distance, provisioning requested %s; manual schema intervention required",
		e.Table, e.ExistingDistance, e.RequestedDistance)
}

// UnavailableError wraps a transient backend failure. Callers may retry.
type UnavailableError struct {
	Op    string
	Table string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vectorstore: %s %s: backend unavailable: %v", e.Op, e.Table, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
