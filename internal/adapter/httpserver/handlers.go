package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/curriculum-catalog/internal/config"
	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
	"github.com/fairyhunter13/curriculum-catalog/internal/preset"
	"github.com/fairyhunter13/curriculum-catalog/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg           config.Config
	Sessions      usecase.SessionService
	Search        usecase.SearchService
	Indexer       usecase.IndexerService
	Expectations  domain.ExpectationRepository
	Presets       *preset.Catalog
	DBCheck       func(ctx context.Context) error
	RedisCheck    func(ctx context.Context) error
	ProviderCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, sessions usecase.SessionService, search usecase.SearchService, indexer usecase.IndexerService, expectations domain.ExpectationRepository, presets *preset.Catalog, dbCheck, redisCheck, providerCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:           cfg,
		Sessions:      sessions,
		Search:        search,
		Indexer:       indexer,
		Expectations:  expectations,
		Presets:       presets,
		DBCheck:       dbCheck,
		RedisCheck:    redisCheck,
		ProviderCheck: providerCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func validationDetails(err error) map[string]string {
	verrs := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}

// ownerID resolves the calling user. Authentication happens upstream; the
// identity arrives as a trusted header.
func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

// StartImportHandler creates a new import session in UPLOADING.
func (s *Server) StartImportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := ownerID(r)
		if owner == "" {
			writeError(w, r, fmt.Errorf("%w: X-User-Id header required", domain.ErrInvalidArgument), nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Grade        int    `json:"grade" validate:"gte=0,lte=12"`
			Subject      string `json:"subject" validate:"required,max=200"`
			SourceFormat string `json:"source_format" validate:"required"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		id, err := s.Sessions.Start(r.Context(), owner, req.Grade, req.Subject, req.SourceFormat)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"import_id": id})
	}
}

// csvMIMEAllowed accepts anything the sniffer classifies as text. Real-world
// CSV exports are detected as text/csv or text/plain depending on content.
func csvMIMEAllowed(m string) bool {
	m = strings.ToLower(m)
	return strings.HasPrefix(m, "text/") || strings.HasPrefix(m, "application/csv")
}

// readCSVBody returns the raw CSV payload from either a direct text body or a
// multipart form with a "file" field.
func readCSVBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: file field required", domain.ErrInvalidArgument)
		}
		defer func() { _ = f.Close() }()
		return io.ReadAll(f)
	}
	return io.ReadAll(r.Body)
}

// UploadCSVHandler stages a CSV payload on an import session.
func (s *Server) UploadCSVHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: import id missing", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		data, err := readCSVBody(w, r, maxBytes)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_ = json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "payload too large", Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB}}})
				return
			}
			writeError(w, r, err, nil)
			return
		}
		if len(data) == 0 {
			writeError(w, r, fmt.Errorf("%w: empty body", domain.ErrInvalidArgument), nil)
			return
		}
		if m := mimetype.Detect(data); !csvMIMEAllowed(m.String()) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			_ = json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "unsupported media type for csv upload", Details: map[string]any{"mime": m.String()}}})
			return
		}
		subjects, err := s.Sessions.IngestCSV(r.Context(), id, string(data))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "subjects": subjects})
	}
}

// LoadPresetHandler stages a bundled preset dataset on an import session.
func (s *Server) LoadPresetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: import id missing", domain.ErrInvalidArgument), nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			PresetID string `json:"preset_id" validate:"required,max=100"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		subjects, err := s.Sessions.IngestPreset(r.Context(), id, req.PresetID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "subjects": subjects})
	}
}

// ConfirmHandler commits the staged records into the permanent catalog.
func (s *Server) ConfirmHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: import id missing", domain.ErrInvalidArgument), nil)
			return
		}
		created, err := s.Sessions.Confirm(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"created":    created,
			"status":     domain.SessionCompleted,
		})
	}
}

// ProgressHandler returns status and counters for one import session.
func (s *Server) ProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: import id missing", domain.ErrInvalidArgument), nil)
			return
		}
		p, err := s.Sessions.GetProgress(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HistoryHandler lists the caller's import sessions, most recent first.
func (s *Server) HistoryHandler() http.HandlerFunc {
	type item struct {
		ID                string               `json:"id"`
		Grade             int                  `json:"grade"`
		Subject           string               `json:"subject"`
		SourceFormat      string               `json:"source_format"`
		Status            domain.SessionStatus `json:"status"`
		TotalOutcomes     int                  `json:"total_outcomes"`
		ProcessedOutcomes int                  `json:"processed_outcomes"`
		CreatedAt         time.Time            `json:"created_at"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		owner := ownerID(r)
		if owner == "" {
			writeError(w, r, fmt.Errorf("%w: X-User-Id header required", domain.ErrInvalidArgument), nil)
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}
		sessions, err := s.Sessions.ListHistory(r.Context(), owner, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		items := make([]item, 0, len(sessions))
		for _, sess := range sessions {
			items = append(items, item{
				ID:                sess.ID,
				Grade:             sess.Grade,
				Subject:           sess.Subject,
				SourceFormat:      sess.SourceFormat,
				Status:            sess.Status,
				TotalOutcomes:     sess.TotalOutcomes,
				ProcessedOutcomes: sess.ProcessedOutcomes,
				CreatedAt:         sess.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"imports": items})
	}
}

// ListPresetsHandler exposes the bundled preset datasets.
func (s *Server) ListPresetsHandler() http.HandlerFunc {
	type item struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		datasets := s.Presets.List()
		items := make([]item, 0, len(datasets))
		for _, d := range datasets {
			items = append(items, item{ID: d.ID, Name: d.Name, Version: d.Version})
		}
		writeJSON(w, http.StatusOK, map[string]any{"presets": items})
	}
}

type searchResult struct {
	ID             string   `json:"id"`
	Code           string   `json:"code"`
	Description    string   `json:"description"`
	AltDescription string   `json:"alt_description,omitempty"`
	Strand         string   `json:"strand,omitempty"`
	Substrand      string   `json:"substrand,omitempty"`
	Grade          int      `json:"grade"`
	Subject        string   `json:"subject"`
	Score          *float64 `json:"score,omitempty"`
}

// SearchHandler ranks catalog records against a free-text query.
func (s *Server) SearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}
		filter := domain.ExpectationFilter{
			Subject: strings.TrimSpace(q.Get("subject")),
			Strand:  strings.TrimSpace(q.Get("strand")),
		}
		if v := q.Get("grade"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: grade must be an integer", domain.ErrInvalidArgument), nil)
				return
			}
			filter.Grade = &n
		}
		scored, err := s.Search.Search(r.Context(), q.Get("q"), limit, filter)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		results := make([]searchResult, 0, len(scored))
		for _, sc := range scored {
			e := sc.Expectation
			results = append(results, searchResult{
				ID:             e.ID,
				Code:           e.Code,
				Description:    e.Description,
				AltDescription: e.AltDescription,
				Strand:         e.Strand,
				Substrand:      e.Substrand,
				Grade:          e.Grade,
				Subject:        e.Subject,
				Score:          sc.Score,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// ClusterHandler validates a clustering request and returns the stub payload.
func (s *Server) ClusterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			ExpectationIDs []string `json:"expectation_ids" validate:"required,min=1"`
			ClusterCount   int      `json:"cluster_count" validate:"required,min=1"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		res, err := s.Search.Cluster(r.Context(), req.ExpectationIDs, req.ClusterCount)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ReindexHandler regenerates the similarity vector for one catalog record.
func (s *Server) ReindexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: expectation id missing", domain.ErrInvalidArgument), nil)
			return
		}
		rec, err := s.Expectations.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Indexer.Index(r.Context(), rec.ID, usecase.IndexText(rec)); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"expectation_id": rec.ID, "status": "indexed"})
	}
}

// ReadyzHandler probes the DB, Redis, and the embedding provider.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		probes := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"embedding_provider", s.ProviderCheck},
		}
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			if err := p.fn(ctx); err != nil {
				checks = append(checks, check{Name: p.name, OK: false, Details: err.Error()})
				ok = false
				continue
			}
			checks = append(checks, check{Name: p.name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
