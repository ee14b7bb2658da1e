package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/veilwork/flowbridge/internal/fault"
	"go.uber.org/zap"
)

// State tracks a table through the provisioning lifecycle.
type State int

const (
	StateUnchecked State = iota
	// StateValidated: the table existed and its width matched.
	StateValidated
	// StateCreated: the table was created at the reconciled width.
	StateCreated
	// StateProvisioned: table and index are in place; safe to open for writes.
	StateProvisioned
)

func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateValidated:
		return "validated"
	case StateCreated:
		return "created"
	case StateProvisioned:
		return "provisioned"
	default:
		return "unknown"
	}
}

// Handle is the result of provisioning one table. One handle exists per
// table name per process.
type Handle struct {
	ID        string
	Table     string
	Dimension int
	Distance  DistanceStrategy
	State     State
}

// tableLocks serializes check-then-create per table name across every
// Provisioner in the process, so concurrent flow executions cannot race two
// divergent creation attempts on the same table. tableHandles makes the
// published handle a per-process singleton under the same keying: a table
// name maps to one backend within a process.
var (
	tableLocks   sync.Map // table name -> *sync.Mutex
	tableHandles sync.Map // table name -> *Handle
)

func lockTable(name string) *sync.Mutex {
	mu, _ := tableLocks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Provisioner ensures vector tables and their similarity indexes exist at
// the reconciled dimension.
type Provisioner struct {
	store  Store
	logger *zap.Logger
}

// NewProvisioner creates a Provisioner over an opened backend store.
func NewProvisioner(store Store, logger *zap.Logger) *Provisioner {
	return &Provisioner{store: store, logger: logger}
}

// Provision walks a table through unchecked → validated|created →
// provisioned. A repeat call with an unchanged spec returns the cached
// handle without touching the backend. An existing table at a different
// width is a SchemaConflictError and nothing is mutated.
func (p *Provisioner) Provision(ctx context.Context, spec TableSpec) (*Handle, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	mu := lockTable(spec.Name)
	mu.Lock()
	defer mu.Unlock()

	if h := p.cached(spec.Name); h != nil && h.Dimension == spec.Dimension && h.Distance == spec.Distance {
		return h, nil
	}

	info, err := p.store.Describe(ctx, spec.Name)
	if err != nil {
		return nil, p.classify("describe", spec.Name, err)
	}

	state := StateUnchecked
	if info.Exists {
		if info.Dimension != spec.Dimension {
			return nil, &SchemaConflictError{
				Table:     spec.Name,
				Existing:  info.Dimension,
				Requested: spec.Dimension,
			}
		}
		if info.Distance != 0 && info.Distance != spec.Distance {
			return nil, &SchemaConflictError{
				Table:             spec.Name,
				Existing:          info.Dimension,
				Requested:         spec.Dimension,
				ExistingDistance:  info.Distance,
				RequestedDistance: spec.Distance,
			}
		}
		state = StateValidated
		p.logger.Debug("vector table validated",
			zap.String("table", spec.Name),
			zap.Int("dimension", spec.Dimension),
		)
	} else {
		if err := p.store.CreateTable(ctx, spec); err != nil {
			return nil, p.classify("create", spec.Name, err)
		}
		state = StateCreated
		p.logger.Info("vector table created",
			zap.String("table", spec.Name),
			zap.Int("dimension", spec.Dimension),
			zap.String("distance", spec.Distance.String()),
		)
	}

	if err := p.store.EnsureIndex(ctx, spec); err != nil {
		return nil, p.classify("ensure index", spec.Name, err)
	}

	// Nothing is published if the flow was cancelled along the way.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := &Handle{
		ID:        uuid.New().String(),
		Table:     spec.Name,
		Dimension: spec.Dimension,
		Distance:  spec.Distance,
		State:     StateProvisioned,
	}
	tableHandles.Store(spec.Name, h)

	p.logger.Info("vector table provisioned",
		zap.String("handle_id", h.ID),
		zap.String("table", h.Table),
		zap.Int("dimension", h.Dimension),
		zap.String("from_state", state.String()),
	)
	return h, nil
}

func (p *Provisioner) cached(name string) *Handle {
	if h, ok := tableHandles.Load(name); ok {
		return h.(*Handle)
	}
	return nil
}

// Write upserts documents into a provisioned table. The table must have
// passed through provisioning in this process first; every document must
// carry an embedding at the table's width.
func (p *Provisioner) Write(ctx context.Context, table string, docs []Document) error {
	h := p.cached(table)
	if h == nil || h.State != StateProvisioned {
		return fmt.Errorf("vectorstore: table %s is not provisioned for writes", table)
	}
	for _, d := range docs {
		if len(d.Embedding) != h.Dimension {
			return fmt.Errorf("vectorstore: document %s carries a %d-dimensional embedding, table %s holds %d",
				d.ID, len(d.Embedding), table, h.Dimension)
		}
	}
	spec := TableSpec{Name: h.Table, Dimension: h.Dimension, Distance: h.Distance}
	if err := p.store.Upsert(ctx, spec, docs); err != nil {
		return p.classify("upsert", table, err)
	}
	p.logger.Debug("documents written",
		zap.String("table", table),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Query runs a nearest-neighbor search against a provisioned table.
func (p *Provisioner) Query(ctx context.Context, table string, vector []float32, limit int) ([]ScoredDocument, error) {
	h := p.cached(table)
	if h == nil || h.State != StateProvisioned {
		return nil, fmt.Errorf("vectorstore: table %s is not provisioned for queries", table)
	}
	if len(vector) != h.Dimension {
		return nil, fmt.Errorf("vectorstore: query vector is %d-dimensional, table %s holds %d",
			len(vector), table, h.Dimension)
	}
	if limit <= 0 {
		limit = 4
	}
	spec := TableSpec{Name: h.Table, Dimension: h.Dimension, Distance: h.Distance}
	results, err := p.store.Search(ctx, spec, vector, limit)
	if err != nil {
		return nil, p.classify("search", table, err)
	}
	return results, nil
}

// classify maps raw backend errors onto the error taxonomy: deadline →
// timeout, cancellation passes through, everything else is transient
// unavailability.
func (p *Provisioner) classify(op, table string, err error) error {
	if cerr := fault.Classify(op, err); fault.IsTimeout(cerr) {
		return cerr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &UnavailableError{Op: op, Table: table, Err: err}
}
