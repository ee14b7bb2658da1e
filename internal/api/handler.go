package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/veilwork/flowbridge/internal/connector"
	"github.com/veilwork/flowbridge/internal/credentials"
	"github.com/veilwork/flowbridge/internal/embedding"
	"github.com/veilwork/flowbridge/internal/fault"
	"github.com/veilwork/flowbridge/internal/vectorstore"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	conn    *connector.Connector
	logger  *zap.Logger
	started time.Time
}

// NewHandler creates a new API handler.
func NewHandler(conn *connector.Connector, logger *zap.Logger) *Handler {
	return &Handler{conn: conn, logger: logger, started: time.Now()}
}

// Router builds the admin HTTP surface.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/status", h.status)
		r.Post("/provision", h.provision)
		r.Post("/documents", h.addDocuments)
		r.Post("/search", h.search)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

// sessionView is the externally visible shape of a session. Credentials are
// reduced to strategy and region; key material never leaves the process.
type sessionView struct {
	Strategy    string                     `json:"credential_strategy"`
	Region      string                     `json:"region"`
	KeyMaterial bool                       `json:"key_material"`
	Dimension   int                        `json:"dimension"`
	Warning     *embedding.MismatchWarning `json:"dimension_warning,omitempty"`
	Table       string                     `json:"table"`
	HandleID    string                     `json:"handle_id"`
	State       string                     `json:"state"`
}

func viewOf(s *connector.Session) sessionView {
	return sessionView{
		Strategy:    s.Credentials.Source.String(),
		Region:      s.Credentials.Region,
		KeyMaterial: s.Credentials.HasKeyMaterial,
		Dimension:   s.Dimension,
		Warning:     s.Warning,
		Table:       s.Handle.Table,
		HandleID:    s.Handle.ID,
		State:       s.Handle.State.String(),
	}
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	s := h.conn.Session()
	if s == nil {
		writeJSON(w, http.StatusOK, map[string]any{"provisioned": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provisioned": true,
		"session":     viewOf(s),
	})
}

func (h *Handler) provision(w http.ResponseWriter, r *http.Request) {
	s, err := h.conn.Ensure(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

type documentInput struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type addDocumentsRequest struct {
	Documents []documentInput `json:"documents"`
}

func (h *Handler) addDocuments(w http.ResponseWriter, r *http.Request) {
	var req addDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Documents) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no documents given"})
		return
	}

	docs := make([]vectorstore.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = vectorstore.Document{Content: d.Content, Metadata: d.Metadata}
	}
	ids, err := h.conn.AddDocuments(r.Context(), docs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchHit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float32           `json:"score"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	results, err := h.conn.SearchDocuments(r.Context(), req.Query, req.Limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	hits := make([]searchHit, len(results))
	for i, res := range results {
		hits[i] = searchHit{
			ID:       res.ID,
			Content:  res.Content,
			Metadata: res.Metadata,
			Score:    res.Score,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// writeError maps the error taxonomy onto HTTP status codes: configuration
// problems are client errors, transient backend trouble is 503/504, schema
// conflicts are 409.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var credErr *credentials.Error
	var probeErr *embedding.ProbeError
	var conflictErr *vectorstore.SchemaConflictError
	var unavailErr *vectorstore.UnavailableError
	switch {
	case errors.As(err, &credErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &probeErr):
		status = http.StatusBadGateway
	case errors.As(err, &conflictErr):
		status = http.StatusConflict
	case errors.As(err, &unavailErr):
		status = http.StatusServiceUnavailable
	case fault.IsTimeout(err):
		status = http.StatusGatewayTimeout
	}

	h.logger.Error("provision request failed", zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
