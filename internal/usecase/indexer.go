package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
)

// IndexerService generates and stores similarity vectors for catalog records.
// Indexing is best-effort: a record without a vector is still a valid catalog
// record, it just never appears on the primary search path.
type IndexerService struct {
	Embeddings domain.EmbeddingRepository
	Embedder   domain.EmbeddingClient
	Model      string
	Timeout    time.Duration
}

// NewIndexerService constructs an IndexerService. Embedder may be nil when no
// provider is configured; indexing is then skipped entirely.
func NewIndexerService(embeddings domain.EmbeddingRepository, embedder domain.EmbeddingClient, model string, timeout time.Duration) IndexerService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return IndexerService{Embeddings: embeddings, Embedder: embedder, Model: model, Timeout: timeout}
}

// Index embeds text and upserts the vector for the expectation. Re-indexing
// replaces the prior vector.
func (s IndexerService) Index(ctx domain.Context, expectationID, text string) error {
	if expectationID == "" || strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: expectation id and text required", domain.ErrInvalidArgument)
	}
	if s.Embedder == nil {
		return fmt.Errorf("%w: no embedding provider configured", domain.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	vecs, err := s.Embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("op=indexer.embed: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return fmt.Errorf("op=indexer.embed: empty vector")
	}
	return s.Embeddings.Upsert(ctx, domain.ExpectationEmbedding{
		ExpectationID: expectationID,
		Vector:        vecs[0],
		Model:         s.Model,
		UpdatedAt:     time.Now().UTC(),
	})
}

// IndexExpectations indexes records one by one, logging failures instead of
// propagating them. Returns the number successfully indexed.
func (s IndexerService) IndexExpectations(ctx domain.Context, recs []domain.CurriculumExpectation) int {
	if s.Embedder == nil || len(recs) == 0 {
		return 0
	}
	indexed := 0
	for _, rec := range recs {
		if err := s.Index(ctx, rec.ID, IndexText(rec)); err != nil {
			slog.Warn("embedding generation skipped",
				slog.String("expectation_id", rec.ID),
				slog.String("code", rec.Code),
				slog.Any("error", err))
			continue
		}
		indexed++
	}
	return indexed
}

// IndexText is the canonical text embedded for a record: code, description,
// and strand, which together carry the searchable meaning.
func IndexText(e domain.CurriculumExpectation) string {
	parts := []string{e.Code, e.Description}
	if e.Strand != "" {
		parts = append(parts, e.Strand)
	}
	return strings.Join(parts, ". ")
}
