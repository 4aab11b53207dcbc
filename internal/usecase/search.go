package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
	"github.com/fairyhunter13/curriculum-catalog/internal/observability"
)

// SearchService ranks catalog records against a query using stored vectors,
// with a textual fallback when the provider or vector path is unavailable.
type SearchService struct {
	Expectations domain.ExpectationRepository
	Embedder     domain.EmbeddingClient
	MinScore     float64
	DefaultLimit int
	Timeout      time.Duration
}

// NewSearchService constructs a SearchService. Embedder may be nil; search
// then always takes the textual fallback.
func NewSearchService(expectations domain.ExpectationRepository, embedder domain.EmbeddingClient, minScore float64, defaultLimit int, timeout time.Duration) SearchService {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return SearchService{Expectations: expectations, Embedder: embedder, MinScore: minScore, DefaultLimit: defaultLimit, Timeout: timeout}
}

// errNoEmbeddedCandidates reroutes the vector path to the textual fallback
// when no filtered record carries a stored embedding.
var errNoEmbeddedCandidates = errors.New("no embedded candidates")

// Search returns up to limit records ranked by cosine similarity to the
// query, scores attached and raw vectors stripped. Results at or below
// MinScore are dropped. Provider or storage failure on the vector path, or a
// catalog with no stored embeddings for the filtered records, degrades to a
// case-insensitive substring match ordered by code; that path yields unscored
// results and is not an error for the caller.
func (s SearchService) Search(ctx domain.Context, query string, limit int, f domain.ExpectationFilter) ([]domain.ScoredExpectation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query required", domain.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = s.DefaultLimit
	}

	if s.Embedder != nil {
		out, err := s.vectorSearch(ctx, query, limit, f)
		if err == nil {
			observability.SearchRequestsTotal.WithLabelValues("vector").Inc()
			return out, nil
		}
		if !errors.Is(err, errNoEmbeddedCandidates) {
			slog.Warn("vector search unavailable; falling back to text match", slog.Any("error", err))
		}
	}

	observability.SearchRequestsTotal.WithLabelValues("fallback").Inc()
	recs, err := s.Expectations.SearchText(ctx, query, f, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ScoredExpectation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, domain.ScoredExpectation{Expectation: rec})
	}
	return out, nil
}

func (s SearchService) vectorSearch(ctx domain.Context, query string, limit int, f domain.ExpectationFilter) ([]domain.ScoredExpectation, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	qv, err := s.Embedder.Embed(embedCtx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("unexpected embedding count %d", len(qv))
	}
	recs, vecs, err := s.Expectations.ListWithEmbeddings(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errNoEmbeddedCandidates
	}
	scored := make([]domain.ScoredExpectation, 0, len(recs))
	for i := range recs {
		sim := CosineSimilarity(qv[0], vecs[i])
		if sim <= s.MinScore {
			continue
		}
		sc := sim
		scored = append(scored, domain.ScoredExpectation{Expectation: recs[i], Score: &sc})
	}
	sort.SliceStable(scored, func(i, j int) bool { return *scored[i].Score > *scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|). A zero-magnitude vector or
// mismatched dimensions yield 0, never a division error.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ClusterResult is the placeholder payload returned by Cluster.
type ClusterResult struct {
	Implemented       bool     `json:"implemented"`
	Message           string   `json:"message"`
	ExpectationIDs    []string `json:"expectation_ids"`
	RequestedClusters int      `json:"requested_clusters"`
}

// Cluster validates its inputs and returns a descriptive placeholder. No
// grouping algorithm is implemented; callers must treat the payload as a
// stub contract.
func (s SearchService) Cluster(_ domain.Context, expectationIDs []string, clusterCount int) (ClusterResult, error) {
	if len(expectationIDs) == 0 {
		return ClusterResult{}, fmt.Errorf("%w: expectation ids required", domain.ErrInvalidArgument)
	}
	if clusterCount <= 0 || clusterCount > len(expectationIDs) {
		return ClusterResult{}, fmt.Errorf("%w: cluster count must be between 1 and %d", domain.ErrInvalidArgument, len(expectationIDs))
	}
	return ClusterResult{
		Implemented:       false,
		Message:           fmt.Sprintf("clustering is not implemented; received %d expectations for %d clusters", len(expectationIDs), clusterCount),
		ExpectationIDs:    expectationIDs,
		RequestedClusters: clusterCount,
	}, nil
}
