package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veilwork/flowbridge/internal/connector"
	"github.com/veilwork/flowbridge/internal/credentials"
	"github.com/veilwork/flowbridge/internal/vectorstore"
	"github.com/veilwork/flowbridge/internal/wallet"
	"go.uber.org/zap"
)

// memStore is a minimal in-memory backend for handler tests.
type memStore struct {
	tables map[string]int
	docs   []vectorstore.Document
}

func (m *memStore) Describe(ctx context.Context, name string) (vectorstore.TableInfo, error) {
	dim, ok := m.tables[name]
	return vectorstore.TableInfo{Exists: ok, Dimension: dim}, nil
}

func (m *memStore) CreateTable(ctx context.Context, spec vectorstore.TableSpec) error {
	m.tables[spec.Name] = spec.Dimension
	return nil
}

func (m *memStore) EnsureIndex(ctx context.Context, spec vectorstore.TableSpec) error { return nil }

func (m *memStore) Upsert(ctx context.Context, spec vectorstore.TableSpec, docs []vectorstore.Document) error {
	m.docs = append(m.docs, docs...)
	return nil
}

func (m *memStore) Search(ctx context.Context, spec vectorstore.TableSpec, vector []float32, limit int) ([]vectorstore.ScoredDocument, error) {
	var results []vectorstore.ScoredDocument
	for _, d := range m.docs {
		results = append(results, vectorstore.ScoredDocument{Document: d, Score: 1})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

type fixedEmbedder struct{ dim int }

func (e fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

// newTestHandler wires a Handler over in-memory deps (no Postgres/Qdrant).
func newTestHandler(t *testing.T, table string, declared, observed int, credCfg credentials.Config) (*Handler, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	store := &memStore{tables: make(map[string]int)}
	factory := func(ctx context.Context, _ wallet.Descriptor) (vectorstore.Store, error) {
		return store, nil
	}
	conn := connector.New(connector.Config{
		Credentials: credCfg,
		ModelID:     "test-model",
		Dimension:   declared,
		TableName:   table,
		Distance:    vectorstore.DistanceCosine,
	}, credentials.NewResolver(logger), fixedEmbedder{dim: observed}, wallet.FileResolver{}, factory, logger)

	h := NewHandler(conn, logger)
	return h, h.Router()
}

func envCreds() credentials.Config {
	return credentials.Config{
		UseEnvironment: true,
		Region:         "us-east-1",
		EnvKeys:        credentials.EnvKeys{Region: "AWS_DEFAULT_REGION"},
	}
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t, "api_health", 8, 8, envCreds())
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("got status %v, want ok", body["status"])
	}
}

func TestProvisionEndpoint(t *testing.T) {
	_, router := newTestHandler(t, "api_provision", 1536, 1024, envCreds())
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/provision", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/provision: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var view sessionView
	decodeJSON(t, resp, &view)
	if view.Dimension != 1024 {
		t.Errorf("got dimension %d, want reconciled 1024", view.Dimension)
	}
	if view.Warning == nil {
		t.Error("expected a dimension warning in the response")
	}
	if view.Strategy != "environment" {
		t.Errorf("got strategy %q, want environment", view.Strategy)
	}
	if view.State != "provisioned" {
		t.Errorf("got state %q, want provisioned", view.State)
	}
}

func TestProvisionEndpointNeverLeaksSecrets(t *testing.T) {
	creds := credentials.Config{
		UseEnvironment: false,
		AccessKey:      "AKIALEAKTEST",
		SecretKey:      "secretleaktest",
		Region:         "us-east-1",
		EnvKeys:        credentials.EnvKeys{Region: "AWS_DEFAULT_REGION"},
	}
	_, router := newTestHandler(t, "api_secrets", 8, 8, creds)
	ts := httptest.NewServer(router)
	defer ts.Close()

	for _, path := range []string{"/api/provision", "/api/status"} {
		var resp *http.Response
		var err error
		if path == "/api/provision" {
			resp, err = http.Post(ts.URL+path, "application/json", nil)
		} else {
			resp, err = http.Get(ts.URL + path)
		}
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		body := string(raw)
		if strings.Contains(body, "AKIALEAKTEST") || strings.Contains(body, "secretleaktest") {
			t.Errorf("%s response leaks credentials: %s", path, body)
		}
	}
}

func TestStatusBeforeProvisioning(t *testing.T) {
	_, router := newTestHandler(t, "api_status", 8, 8, envCreds())
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["provisioned"] != false {
		t.Errorf("got provisioned %v, want false before any provision call", body["provisioned"])
	}
}

func TestDocumentsAndSearchEndpoints(t *testing.T) {
	_, router := newTestHandler(t, "api_ingest", 8, 8, envCreds())
	ts := httptest.NewServer(router)
	defer ts.Close()

	add := `{"documents": [{"content": "alpha"}, {"content": "beta", "metadata": {"source": "a.pdf"}}]}`
	resp, err := http.Post(ts.URL+"/api/documents", "application/json", strings.NewReader(add))
	if err != nil {
		t.Fatalf("POST /api/documents: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var addBody struct {
		IDs []string `json:"ids"`
	}
	decodeJSON(t, resp, &addBody)
	if len(addBody.IDs) != 2 {
		t.Fatalf("got %d ids, want 2", len(addBody.IDs))
	}

	resp, err = http.Post(ts.URL+"/api/search", "application/json", strings.NewReader(`{"query": "alpha", "limit": 5}`))
	if err != nil {
		t.Fatalf("POST /api/search: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var searchBody struct {
		Results []searchHit `json:"results"`
	}
	decodeJSON(t, resp, &searchBody)
	if len(searchBody.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(searchBody.Results))
	}
	if searchBody.Results[1].Metadata["source"] != "a.pdf" {
		t.Error("metadata must round-trip through the API")
	}
}

func TestDocumentsEndpointRejectsEmptyBody(t *testing.T) {
	_, router := newTestHandler(t, "api_ingest_empty", 8, 8, envCreds())
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/documents", "application/json", strings.NewReader(`{"documents": []}`))
	if err != nil {
		t.Fatalf("POST /api/documents: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400 for an empty batch", resp.StatusCode)
	}
}

func TestProvisionCredentialErrorStatusCode(t *testing.T) {
	creds := credentials.Config{
		UseEnvironment: false,
		AccessKey:      "only-half",
		EnvKeys:        credentials.EnvKeys{Region: "AWS_DEFAULT_REGION"},
	}
	_, router := newTestHandler(t, "api_badcreds", 8, 8, creds)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/provision", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/provision: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("got status %d, want 422 for a configuration problem", resp.StatusCode)
	}
}
