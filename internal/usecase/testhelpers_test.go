package usecase_test

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
)

// In-memory fakes implementing the domain ports. Shared across the usecase
// test files so each does not redefine them.

type fakeSessionRepo struct {
	mu   sync.Mutex
	seq  int
	byID map[string]domain.ImportSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byID: map[string]domain.ImportSession{}}
}

func (r *fakeSessionRepo) Create(_ domain.Context, s domain.ImportSession) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if s.ID == "" {
		s.ID = fmt.Sprintf("sess-%d", r.seq)
	}
	r.byID[s.ID] = s
	return s.ID, nil
}

func (r *fakeSessionRepo) Get(_ domain.Context, id string) (domain.ImportSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return domain.ImportSession{}, fmt.Errorf("op=session.get: %w", domain.ErrNotFound)
	}
	return s, nil
}

func (r *fakeSessionRepo) SetStaged(_ domain.Context, id string, staged []domain.StagedSubject, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("op=session.set_staged: %w", domain.ErrConflict)
	}
	if s.Status != domain.SessionUploading && s.Status != domain.SessionProcessing {
		return fmt.Errorf("op=session.set_staged: %w", domain.ErrConflict)
	}
	s.StagedData = staged
	s.TotalOutcomes = total
	s.Status = domain.SessionReadyForReview
	r.byID[id] = s
	return nil
}

func (r *fakeSessionRepo) Complete(_ domain.Context, id string, processed int, errLog []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.Status != domain.SessionReadyForReview {
		return fmt.Errorf("op=session.complete: %w", domain.ErrConflict)
	}
	s.Status = domain.SessionCompleted
	s.ProcessedOutcomes = processed
	s.ErrorLog = errLog
	r.byID[id] = s
	return nil
}

func (r *fakeSessionRepo) Fail(_ domain.Context, id string, errLog []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.Status.Terminal() {
		return nil
	}
	s.Status = domain.SessionFailed
	s.ErrorLog = errLog
	r.byID[id] = s
	return nil
}

func (r *fakeSessionRepo) ListByOwner(_ domain.Context, ownerID string, limit int) ([]domain.ImportSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ImportSession
	for _, s := range r.byID {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeExpectationRepo struct {
	mu    sync.Mutex
	seq   int
	byID  map[string]domain.CurriculumExpectation
	byKey map[string]string // natural key -> id
	// failCodes injects a create error for specific codes
	failCodes map[string]error
	// vectors holds embeddings for ListWithEmbeddings
	vectors map[string][]float32
}

func newFakeExpectationRepo() *fakeExpectationRepo {
	return &fakeExpectationRepo{
		byID:      map[string]domain.CurriculumExpectation{},
		byKey:     map[string]string{},
		failCodes: map[string]error{},
		vectors:   map[string][]float32{},
	}
}

func naturalKey(code string, grade int, subject string) string {
	return fmt.Sprintf("%s|%d|%s", code, grade, subject)
}

func (r *fakeExpectationRepo) Create(_ domain.Context, e domain.CurriculumExpectation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failCodes[e.Code]; ok {
		return "", err
	}
	key := naturalKey(e.Code, e.Grade, e.Subject)
	if _, dup := r.byKey[key]; dup {
		return "", fmt.Errorf("op=expectation.create: %w", domain.ErrConflict)
	}
	r.seq++
	if e.ID == "" {
		e.ID = fmt.Sprintf("exp-%d", r.seq)
	}
	r.byID[e.ID] = e
	r.byKey[key] = e.ID
	return e.ID, nil
}

func (r *fakeExpectationRepo) FindByNaturalKey(_ domain.Context, code string, grade int, subject string) (domain.CurriculumExpectation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[naturalKey(code, grade, subject)]
	if !ok {
		return domain.CurriculumExpectation{}, fmt.Errorf("op=expectation.find_key: %w", domain.ErrNotFound)
	}
	return r.byID[id], nil
}

func (r *fakeExpectationRepo) Get(_ domain.Context, id string) (domain.CurriculumExpectation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return domain.CurriculumExpectation{}, fmt.Errorf("op=expectation.get: %w", domain.ErrNotFound)
	}
	return e, nil
}

func (r *fakeExpectationRepo) ListWithEmbeddings(_ domain.Context, f domain.ExpectationFilter) ([]domain.CurriculumExpectation, [][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var recs []domain.CurriculumExpectation
	var vecs [][]float32
	for id, v := range r.vectors {
		e, ok := r.byID[id]
		if !ok || !matchesFilter(e, f) {
			continue
		}
		recs = append(recs, e)
		vecs = append(vecs, v)
	}
	return recs, vecs, nil
}

func (r *fakeExpectationRepo) SearchText(_ domain.Context, query string, f domain.ExpectationFilter, limit int) ([]domain.CurriculumExpectation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := strings.ToLower(query)
	var out []domain.CurriculumExpectation
	for _, e := range r.byID {
		if !matchesFilter(e, f) {
			continue
		}
		hay := strings.ToLower(e.Code + " " + e.Description + " " + e.AltDescription + " " + e.Strand)
		if strings.Contains(hay, q) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesFilter(e domain.CurriculumExpectation, f domain.ExpectationFilter) bool {
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Grade != nil && e.Grade != *f.Grade {
		return false
	}
	if f.Strand != "" && e.Strand != f.Strand {
		return false
	}
	return true
}

type fakeEmbeddingRepo struct {
	mu   sync.Mutex
	byID map[string]domain.ExpectationEmbedding
}

func newFakeEmbeddingRepo() *fakeEmbeddingRepo {
	return &fakeEmbeddingRepo{byID: map[string]domain.ExpectationEmbedding{}}
}

func (r *fakeEmbeddingRepo) Upsert(_ domain.Context, e domain.ExpectationEmbedding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[e.ExpectationID] = e
	return nil
}

func (r *fakeEmbeddingRepo) Get(_ domain.Context, expectationID string) (domain.ExpectationEmbedding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[expectationID]
	if !ok {
		return domain.ExpectationEmbedding{}, fmt.Errorf("op=embedding.get: %w", domain.ErrNotFound)
	}
	return e, nil
}

// fakeEmbedder returns a fixed vector per text, or err when set.
type fakeEmbedder struct {
	vectors map[string][]float32
	fall    []float32
	err     error
	calls   int
}

func (e *fakeEmbedder) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
			continue
		}
		if e.fall != nil {
			out[i] = e.fall
			continue
		}
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

var errBoom = errors.New("storage exploded")
