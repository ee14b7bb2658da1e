package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veilwork/flowbridge/internal/wallet"
	"go.uber.org/zap"
)

// PGConfig holds connection settings for a pgvector-enabled PostgreSQL.
type PGConfig struct {
	DSN string `json:"dsn"`
}

// PGStore implements Store over PostgreSQL with the pgvector extension.
type PGStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// OpenPG connects a pgx pool and verifies the server is reachable. Wallet
// material, when present, supplies the TLS root certificate directory.
func OpenPG(ctx context.Context, cfg PGConfig, desc wallet.Descriptor, logger *zap.Logger) (*PGStore, error) {
	dsn := cfg.DSN
	if desc.Dir != "" {
		dsn += " sslrootcert=" + desc.Dir + "/root.crt"
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &PGStore{db: pool, logger: logger}, nil
}

// Describe reports table existence and, when present, the width of its
// embedding column. pgvector stores the dimension in the column's type
// modifier.
func (s *PGStore) Describe(ctx context.Context, name string) (TableInfo, error) {
	var oid *uint32
	if err := s.db.QueryRow(ctx, `SELECT to_regclass($1)::oid`, name).Scan(&oid); err != nil {
		return TableInfo{}, fmt.Errorf("lookup table %s: %w", name, err)
	}
	if oid == nil {
		return TableInfo{}, nil
	}

	var typmod int
	err := s.db.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1 AND attname = 'embedding' AND NOT attisdropped`,
		*oid).Scan(&typmod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TableInfo{}, fmt.Errorf("table %s exists without an embedding column", name)
		}
		return TableInfo{}, fmt.Errorf("inspect table %s: %w", name, err)
	}
	return TableInfo{Exists: true, Dimension: typmod}, nil
}

// CreateTable creates the vector table. Spec names are validated as plain
// identifiers before they reach this point.
func (s *PGStore) CreateTable(ctx context.Context, spec TableSpec) error {
	if _, err := s.db.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("ensure pgvector extension: %w", err)
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			id UUID PRIMARY KEY,
			content TEXT,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, spec.Name, spec.Dimension))
	if err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// EnsureIndex creates the HNSW similarity index for the configured distance
// strategy. The metric is encoded in the index name, so re-running over an
// existing index of the same metric is a no-op while a different metric gets
// its own index rather than being masked by IF NOT EXISTS.
func (s *PGStore) EnsureIndex(ctx context.Context, spec TableSpec) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_embedding_%s_idx ON %s USING hnsw (embedding %s)`,
		spec.Name, spec.Distance, spec.Name, pgOpclass(spec.Distance)))
	if err != nil {
		return fmt.Errorf("ensure index on %s: %w", spec.Name, err)
	}
	return nil
}

// Upsert writes documents with insert-or-replace semantics keyed on id.
func (s *PGStore) Upsert(ctx context.Context, spec TableSpec, docs []Document) error {
	for _, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", d.ID, err)
		}
		_, err = s.db.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, content, metadata, embedding)
			VALUES ($1, $2, $3, $4::vector)
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`,
			spec.Name), d.ID, d.Content, meta, vectorLiteral(d.Embedding))
		if err != nil {
			return fmt.Errorf("upsert into %s: %w", spec.Name, err)
		}
	}
	return nil
}

// Search returns the nearest documents to vector under the table's distance
// strategy, scored with higher meaning closer.
func (s *PGStore) Search(ctx context.Context, spec TableSpec, vector []float32, limit int) ([]ScoredDocument, error) {
	score, order := pgScoring(spec.Distance)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, %s AS score
		FROM %s
		ORDER BY %s
		LIMIT $2`, score, spec.Name, order),
		vectorLiteral(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", spec.Name, err)
	}
	defer rows.Close()

	var results []ScoredDocument
	for rows.Next() {
		var d ScoredDocument
		var meta []byte
		if err := rows.Scan(&d.ID, &d.Content, &meta, &d.Score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &d.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", d.ID, err)
			}
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", spec.Name, err)
	}
	return results, nil
}

// pgScoring maps a distance strategy onto a score expression and its sort
// order. pgvector's <#> operator returns the negated inner product, so the
// negation below turns it back into "higher is closer".
func pgScoring(d DistanceStrategy) (score, order string) {
	switch d {
	case DistanceEuclidean:
		return "-(embedding <-> $1::vector)", "embedding <-> $1::vector"
	case DistanceDotProduct:
		return "-(embedding <#> $1::vector)", "embedding <#> $1::vector"
	default:
		return "1 - (embedding <=> $1::vector)", "embedding <=> $1::vector"
	}
}

// vectorLiteral renders an embedding in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func pgOpclass(d DistanceStrategy) string {
	switch d {
	case DistanceEuclidean:
		return "vector_l2_ops"
	case DistanceDotProduct:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

// Close shuts down the connection pool.
func (s *PGStore) Close() {
	s.db.Close()
}
