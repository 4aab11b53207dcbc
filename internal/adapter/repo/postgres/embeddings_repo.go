package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
)

// EmbeddingRepo persists similarity vectors, at most one per expectation.
type EmbeddingRepo struct{ Pool PgxPool }

// NewEmbeddingRepo constructs an EmbeddingRepo with the given pool.
func NewEmbeddingRepo(p PgxPool) *EmbeddingRepo { return &EmbeddingRepo{Pool: p} }

// Upsert stores the vector, replacing any prior one for the expectation.
func (r *EmbeddingRepo) Upsert(ctx domain.Context, e domain.ExpectationEmbedding) error {
	tracer := otel.Tracer("repo.embeddings")
	ctx, span := tracer.Start(ctx, "embeddings.Upsert")
	defer span.End()
	q := `INSERT INTO expectation_embeddings (expectation_id, vector, model, updated_at) VALUES ($1,$2,$3,$4)
		ON CONFLICT (expectation_id) DO UPDATE SET vector=EXCLUDED.vector, model=EXCLUDED.model, updated_at=EXCLUDED.updated_at`
	_, err := r.Pool.Exec(ctx, q, e.ExpectationID, e.Vector, e.Model, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=embedding.upsert: %w", err)
	}
	return nil
}

// Get loads the vector for an expectation.
func (r *EmbeddingRepo) Get(ctx domain.Context, expectationID string) (domain.ExpectationEmbedding, error) {
	tracer := otel.Tracer("repo.embeddings")
	ctx, span := tracer.Start(ctx, "embeddings.Get")
	defer span.End()
	q := `SELECT expectation_id, vector, model, updated_at FROM expectation_embeddings WHERE expectation_id=$1`
	row := r.Pool.QueryRow(ctx, q, expectationID)
	var e domain.ExpectationEmbedding
	if err := row.Scan(&e.ExpectationID, &e.Vector, &e.Model, &e.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.ExpectationEmbedding{}, fmt.Errorf("op=embedding.get: %w", domain.ErrNotFound)
		}
		return domain.ExpectationEmbedding{}, fmt.Errorf("op=embedding.get: %w", err)
	}
	return e, nil
}
