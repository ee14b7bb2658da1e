package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/veilwork/flowbridge/internal/credentials"
	"github.com/veilwork/flowbridge/internal/embedding"
	"github.com/veilwork/flowbridge/internal/vectorstore"
	"github.com/veilwork/flowbridge/internal/wallet"
	"go.uber.org/zap"
)

// Config is one connector configuration. Changing it invalidates everything
// the connector has cached.
type Config struct {
	Credentials    credentials.Config
	ModelID        string
	Dimension      int
	TableName      string
	Distance       vectorstore.DistanceStrategy
	WalletLocation string
}

// StoreFactory opens a vector store backend from resolved wallet material.
type StoreFactory func(ctx context.Context, desc wallet.Descriptor) (vectorstore.Store, error)

// Session is the cached outcome of one full resolve → validate → provision
// pass. It lives until the configuration changes.
type Session struct {
	Credentials credentials.Resolved
	Dimension   int
	Warning     *embedding.MismatchWarning
	Handle      *vectorstore.Handle
}

// Connector composes credential resolution, dimension validation, and table
// provisioning behind a single entry point. Flow execution calls Ensure once
// per configuration change; repeat calls return the cached session.
type Connector struct {
	resolver *credentials.Resolver
	embedder embedding.Provider
	wallets  wallet.Resolver
	factory  StoreFactory
	logger   *zap.Logger

	mu          sync.Mutex
	cfg         Config
	generation  uint64
	session     *Session
	provisioner *vectorstore.Provisioner
}

// New creates a Connector for the given configuration and collaborators.
func New(cfg Config, resolver *credentials.Resolver, embedder embedding.Provider,
	wallets wallet.Resolver, factory StoreFactory, logger *zap.Logger) *Connector {
	return &Connector{
		resolver: resolver,
		embedder: embedder,
		wallets:  wallets,
		factory:  factory,
		logger:   logger,
		cfg:      cfg,
	}
}

// Configure replaces the configuration and drops the cached session, forcing
// re-resolution on the next Ensure.
func (c *Connector) Configure(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.generation++
	c.session = nil
	c.provisioner = nil
	c.logger.Info("connector reconfigured, cached session invalidated",
		zap.String("model_id", cfg.ModelID),
		zap.String("table", cfg.TableName),
	)
}

// Session returns the cached session, or nil when none has been established.
func (c *Connector) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Ensure runs resolution, validation, and provisioning in order, blocking on
// each external call. The result is cached for the lifetime of the current
// configuration. Nothing is published to the cache when ctx is cancelled
// mid-flight.
func (c *Connector) Ensure(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.session != nil {
		s := c.session
		c.mu.Unlock()
		return s, nil
	}
	cfg := c.cfg
	gen := c.generation
	prov := c.provisioner
	c.mu.Unlock()

	creds, err := c.resolver.Resolve(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}

	dim, warn, err := embedding.ValidateDimension(ctx, c.embedder, cfg.ModelID, cfg.Dimension)
	if err != nil {
		return nil, err
	}
	if warn != nil {
		c.logger.Warn("embedding dimension mismatch, using observed value",
			zap.String("model_id", warn.ModelID),
			zap.Int("declared", warn.Declared),
			zap.Int("observed", warn.Observed),
		)
	}

	if prov == nil {
		desc, werr := c.resolveWallet(ctx, cfg.WalletLocation)
		if werr != nil {
			return nil, werr
		}
		store, ferr := c.factory(ctx, desc)
		if ferr != nil {
			return nil, fmt.Errorf("open vector store: %w", ferr)
		}
		prov = vectorstore.NewProvisioner(store, c.logger)
	}

	handle, err := prov.Provision(ctx, vectorstore.TableSpec{
		Name:      cfg.TableName,
		Dimension: dim,
		Distance:  cfg.Distance,
		WalletRef: cfg.WalletLocation,
	})
	if err != nil {
		return nil, err
	}

	session := &Session{
		Credentials: creds,
		Dimension:   dim,
		Warning:     warn,
		Handle:      handle,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if gen != c.generation {
		// Reconfigured while we were working; the result belongs to a stale
		// configuration and must not be cached.
		return nil, fmt.Errorf("connector: configuration changed during setup, re-run required")
	}
	c.session = session
	c.provisioner = prov
	return session, nil
}

// AddDocuments embeds the given documents and writes them to the provisioned
// table, running Ensure first when no session exists yet. Documents without
// an ID are assigned one; the assigned IDs are returned in input order.
func (c *Connector) AddDocuments(ctx context.Context, docs []vectorstore.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	session, prov, err := c.ensured(ctx)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d inputs", len(vectors), len(docs))
	}

	ids := make([]string, len(docs))
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.New().String()
		}
		ids[i] = docs[i].ID
		docs[i].Embedding = vectors[i]
	}

	if err := prov.Write(ctx, session.Handle.Table, docs); err != nil {
		return nil, err
	}
	return ids, nil
}

// SearchDocuments embeds the query text and returns the nearest documents
// from the provisioned table.
func (c *Connector) SearchDocuments(ctx context.Context, query string, limit int) ([]vectorstore.ScoredDocument, error) {
	session, prov, err := c.ensured(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := c.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: empty result")
	}
	return prov.Query(ctx, session.Handle.Table, vectors[0], limit)
}

// ensured returns the current session and its provisioner, establishing them
// when needed. They are published together, so a non-nil session implies a
// usable provisioner.
func (c *Connector) ensured(ctx context.Context) (*Session, *vectorstore.Provisioner, error) {
	session, err := c.Ensure(ctx)
	if err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	prov := c.provisioner
	c.mu.Unlock()
	if prov == nil {
		return nil, nil, fmt.Errorf("connector: configuration changed during setup, re-run required")
	}
	return session, prov, nil
}

func (c *Connector) resolveWallet(ctx context.Context, location string) (wallet.Descriptor, error) {
	if location == "" {
		return wallet.Descriptor{}, nil
	}
	desc, err := c.wallets.Resolve(ctx, location)
	if err != nil {
		return wallet.Descriptor{}, fmt.Errorf("resolve wallet: %w", err)
	}
	return desc, nil
}
