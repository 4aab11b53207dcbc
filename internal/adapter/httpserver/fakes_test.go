package httpserver_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/curriculum-catalog/internal/adapter/httpserver"
	"github.com/fairyhunter13/curriculum-catalog/internal/config"
	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
	"github.com/fairyhunter13/curriculum-catalog/internal/preset"
	"github.com/fairyhunter13/curriculum-catalog/internal/usecase"
)

type memSessionRepo struct {
	seq  int
	byID map[string]domain.ImportSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{byID: map[string]domain.ImportSession{}}
}

func (r *memSessionRepo) Create(_ domain.Context, s domain.ImportSession) (string, error) {
	r.seq++
	s.ID = fmt.Sprintf("sess-%d", r.seq)
	r.byID[s.ID] = s
	return s.ID, nil
}

func (r *memSessionRepo) Get(_ domain.Context, id string) (domain.ImportSession, error) {
	s, ok := r.byID[id]
	if !ok {
		return domain.ImportSession{}, domain.ErrNotFound
	}
	return s, nil
}

func (r *memSessionRepo) SetStaged(_ domain.Context, id string, staged []domain.StagedSubject, total int) error {
	s, ok := r.byID[id]
	if !ok || (s.Status != domain.SessionUploading && s.Status != domain.SessionProcessing) {
		return domain.ErrConflict
	}
	s.StagedData = staged
	s.TotalOutcomes = total
	s.Status = domain.SessionReadyForReview
	r.byID[id] = s
	return nil
}

func (r *memSessionRepo) Complete(_ domain.Context, id string, processed int, errLog []string) error {
	s, ok := r.byID[id]
	if !ok || s.Status != domain.SessionReadyForReview {
		return domain.ErrConflict
	}
	s.Status = domain.SessionCompleted
	s.ProcessedOutcomes = processed
	s.ErrorLog = errLog
	r.byID[id] = s
	return nil
}

func (r *memSessionRepo) Fail(_ domain.Context, id string, errLog []string) error {
	s := r.byID[id]
	s.Status = domain.SessionFailed
	s.ErrorLog = errLog
	r.byID[id] = s
	return nil
}

func (r *memSessionRepo) ListByOwner(_ domain.Context, ownerID string, limit int) ([]domain.ImportSession, error) {
	var out []domain.ImportSession
	for _, s := range r.byID {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memExpectationRepo struct {
	seq     int
	byID    map[string]domain.CurriculumExpectation
	byKey   map[string]string
	vectors map[string][]float32
}

func newMemExpectationRepo() *memExpectationRepo {
	return &memExpectationRepo{
		byID:    map[string]domain.CurriculumExpectation{},
		byKey:   map[string]string{},
		vectors: map[string][]float32{},
	}
}

func key(code string, grade int, subject string) string {
	return fmt.Sprintf("%s|%d|%s", code, grade, subject)
}

func (r *memExpectationRepo) Create(_ domain.Context, e domain.CurriculumExpectation) (string, error) {
	k := key(e.Code, e.Grade, e.Subject)
	if _, dup := r.byKey[k]; dup {
		return "", domain.ErrConflict
	}
	r.seq++
	e.ID = fmt.Sprintf("exp-%d", r.seq)
	r.byID[e.ID] = e
	r.byKey[k] = e.ID
	return e.ID, nil
}

func (r *memExpectationRepo) FindByNaturalKey(_ domain.Context, code string, grade int, subject string) (domain.CurriculumExpectation, error) {
	id, ok := r.byKey[key(code, grade, subject)]
	if !ok {
		return domain.CurriculumExpectation{}, domain.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *memExpectationRepo) Get(_ domain.Context, id string) (domain.CurriculumExpectation, error) {
	e, ok := r.byID[id]
	if !ok {
		return domain.CurriculumExpectation{}, domain.ErrNotFound
	}
	return e, nil
}

func (r *memExpectationRepo) ListWithEmbeddings(_ domain.Context, _ domain.ExpectationFilter) ([]domain.CurriculumExpectation, [][]float32, error) {
	var recs []domain.CurriculumExpectation
	var vecs [][]float32
	for id, v := range r.vectors {
		recs = append(recs, r.byID[id])
		vecs = append(vecs, v)
	}
	return recs, vecs, nil
}

func (r *memExpectationRepo) SearchText(_ domain.Context, query string, _ domain.ExpectationFilter, limit int) ([]domain.CurriculumExpectation, error) {
	q := strings.ToLower(query)
	var out []domain.CurriculumExpectation
	for _, e := range r.byID {
		hay := strings.ToLower(e.Code + " " + e.Description + " " + e.Strand)
		if strings.Contains(hay, q) {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memEmbeddingRepo struct {
	byID map[string]domain.ExpectationEmbedding
}

func newMemEmbeddingRepo() *memEmbeddingRepo {
	return &memEmbeddingRepo{byID: map[string]domain.ExpectationEmbedding{}}
}

func (r *memEmbeddingRepo) Upsert(_ domain.Context, e domain.ExpectationEmbedding) error {
	r.byID[e.ExpectationID] = e
	return nil
}

func (r *memEmbeddingRepo) Get(_ domain.Context, id string) (domain.ExpectationEmbedding, error) {
	e, ok := r.byID[id]
	if !ok {
		return domain.ExpectationEmbedding{}, domain.ErrNotFound
	}
	return e, nil
}

type stubEmbedder struct {
	vec []float32
	err error
}

func (e *stubEmbedder) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

type testEnv struct {
	router       http.Handler
	sessions     *memSessionRepo
	expectations *memExpectationRepo
	embeddings   *memEmbeddingRepo
}

func newTestEnv(t *testing.T, embedder domain.EmbeddingClient) *testEnv {
	t.Helper()
	cfg := config.Config{MaxUploadMB: 1, HistoryMaxLimit: 100}
	sessions := newMemSessionRepo()
	expectations := newMemExpectationRepo()
	embeddings := newMemEmbeddingRepo()
	presets, err := preset.NewCatalog()
	require.NoError(t, err)

	engine := usecase.NewConfirmEngine(expectations)
	indexer := usecase.NewIndexerService(embeddings, embedder, "test-model", time.Second)
	sessionSvc := usecase.NewSessionService(sessions, presets, engine, indexer, cfg.HistoryMaxLimit)
	searchSvc := usecase.NewSearchService(expectations, embedder, 0.3, 10, time.Second)

	srv := httpserver.NewServer(cfg, sessionSvc, searchSvc, indexer, expectations, presets, nil, nil, nil)

	r := chi.NewRouter()
	r.Post("/v1/imports", srv.StartImportHandler())
	r.Post("/v1/imports/{id}/csv", srv.UploadCSVHandler())
	r.Post("/v1/imports/{id}/preset", srv.LoadPresetHandler())
	r.Post("/v1/imports/{id}/confirm", srv.ConfirmHandler())
	r.Get("/v1/imports/{id}", srv.ProgressHandler())
	r.Get("/v1/imports", srv.HistoryHandler())
	r.Get("/v1/presets", srv.ListPresetsHandler())
	r.Get("/v1/expectations/search", srv.SearchHandler())
	r.Post("/v1/expectations/cluster", srv.ClusterHandler())
	r.Post("/v1/expectations/{id}/reindex", srv.ReindexHandler())
	r.Get("/readyz", srv.ReadyzHandler())

	return &testEnv{router: r, sessions: sessions, expectations: expectations, embeddings: embeddings}
}

func (env *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

// newMultipart writes a single-file multipart body to buf and returns the
// Content-Type header value.
func newMultipart(t *testing.T, buf *bytes.Buffer, field, filename, content string) string {
	t.Helper()
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return mw.FormDataContentType()
}

// newReadyzServer builds a router with only /readyz wired, using probe for
// every dependency check.
func newReadyzServer(t *testing.T, probe func(context.Context) error) *testEnv {
	t.Helper()
	presets, err := preset.NewCatalog()
	require.NoError(t, err)
	srv := httpserver.NewServer(config.Config{}, usecase.SessionService{}, usecase.SearchService{}, usecase.IndexerService{}, newMemExpectationRepo(), presets, probe, probe, probe)
	r := chi.NewRouter()
	r.Get("/readyz", srv.ReadyzHandler())
	return &testEnv{router: r}
}
