package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
)

// ExpectationRepo persists and loads catalog records from PostgreSQL.
type ExpectationRepo struct{ Pool PgxPool }

// NewExpectationRepo constructs an ExpectationRepo with the given pool.
func NewExpectationRepo(p PgxPool) *ExpectationRepo { return &ExpectationRepo{Pool: p} }

const expectationColumns = `id, code, description, alt_description, strand, substrand, grade, subject, created_at`

// Create inserts a new catalog record and returns its id. A violation of the
// (code, grade, subject) unique index is returned as domain.ErrConflict so
// callers can treat it as a dedup skip.
func (r *ExpectationRepo) Create(ctx domain.Context, e domain.CurriculumExpectation) (string, error) {
	tracer := otel.Tracer("repo.expectations")
	ctx, span := tracer.Start(ctx, "expectations.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "curriculum_expectations"),
	)
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO curriculum_expectations (` + expectationColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.Pool.Exec(ctx, q, id, e.Code, e.Description, e.AltDescription, e.Strand, e.Substrand, e.Grade, e.Subject, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("op=expectation.create: %w", domain.ErrConflict)
		}
		return "", fmt.Errorf("op=expectation.create: %w", err)
	}
	return id, nil
}

// FindByNaturalKey loads a record by (code, grade, subject).
func (r *ExpectationRepo) FindByNaturalKey(ctx domain.Context, code string, grade int, subject string) (domain.CurriculumExpectation, error) {
	tracer := otel.Tracer("repo.expectations")
	ctx, span := tracer.Start(ctx, "expectations.FindByNaturalKey")
	defer span.End()
	q := `SELECT ` + expectationColumns + ` FROM curriculum_expectations WHERE code=$1 AND grade=$2 AND subject=$3`
	e, err := scanExpectation(r.Pool.QueryRow(ctx, q, code, grade, subject))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CurriculumExpectation{}, fmt.Errorf("op=expectation.find_key: %w", domain.ErrNotFound)
		}
		return domain.CurriculumExpectation{}, fmt.Errorf("op=expectation.find_key: %w", err)
	}
	return e, nil
}

// Get loads a record by id.
func (r *ExpectationRepo) Get(ctx domain.Context, id string) (domain.CurriculumExpectation, error) {
	tracer := otel.Tracer("repo.expectations")
	ctx, span := tracer.Start(ctx, "expectations.Get")
	defer span.End()
	q := `SELECT ` + expectationColumns + ` FROM curriculum_expectations WHERE id=$1`
	e, err := scanExpectation(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CurriculumExpectation{}, fmt.Errorf("op=expectation.get: %w", domain.ErrNotFound)
		}
		return domain.CurriculumExpectation{}, fmt.Errorf("op=expectation.get: %w", err)
	}
	return e, nil
}

// ListWithEmbeddings returns filtered records that have a stored vector,
// paired index-for-index with those vectors.
func (r *ExpectationRepo) ListWithEmbeddings(ctx domain.Context, f domain.ExpectationFilter) ([]domain.CurriculumExpectation, [][]float32, error) {
	tracer := otel.Tracer("repo.expectations")
	ctx, span := tracer.Start(ctx, "expectations.ListWithEmbeddings")
	defer span.End()
	q := `SELECT e.id, e.code, e.description, e.alt_description, e.strand, e.substrand, e.grade, e.subject, e.created_at, emb.vector
		FROM curriculum_expectations e
		JOIN expectation_embeddings emb ON emb.expectation_id = e.id
		WHERE ($1 = '' OR e.subject = $1)
		  AND ($2::int IS NULL OR e.grade = $2)
		  AND ($3 = '' OR e.strand = $3)`
	rows, err := r.Pool.Query(ctx, q, f.Subject, f.Grade, f.Strand)
	if err != nil {
		return nil, nil, fmt.Errorf("op=expectation.list_embedded: %w", err)
	}
	defer rows.Close()
	var recs []domain.CurriculumExpectation
	var vecs [][]float32
	for rows.Next() {
		var e domain.CurriculumExpectation
		var v []float32
		if err := rows.Scan(&e.ID, &e.Code, &e.Description, &e.AltDescription, &e.Strand, &e.Substrand, &e.Grade, &e.Subject, &e.CreatedAt, &v); err != nil {
			return nil, nil, fmt.Errorf("op=expectation.list_embedded: %w", err)
		}
		recs = append(recs, e)
		vecs = append(vecs, v)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("op=expectation.list_embedded: %w", err)
	}
	return recs, vecs, nil
}

// SearchText is the embedding-free fallback: case-insensitive substring match
// over code, description, alternate description, and strand, ordered by code.
// strpos is used instead of LIKE so pattern metacharacters in the query are
// matched literally.
func (r *ExpectationRepo) SearchText(ctx domain.Context, query string, f domain.ExpectationFilter, limit int) ([]domain.CurriculumExpectation, error) {
	tracer := otel.Tracer("repo.expectations")
	ctx, span := tracer.Start(ctx, "expectations.SearchText")
	defer span.End()
	q := `SELECT ` + expectationColumns + ` FROM curriculum_expectations
		WHERE ($1 = '' OR subject = $1)
		  AND ($2::int IS NULL OR grade = $2)
		  AND ($3 = '' OR strand = $3)
		  AND (strpos(lower(code), lower($4)) > 0
		    OR strpos(lower(description), lower($4)) > 0
		    OR strpos(lower(alt_description), lower($4)) > 0
		    OR strpos(lower(strand), lower($4)) > 0)
		ORDER BY code ASC
		LIMIT $5`
	rows, err := r.Pool.Query(ctx, q, f.Subject, f.Grade, f.Strand, query, limit)
	if err != nil {
		return nil, fmt.Errorf("op=expectation.search_text: %w", err)
	}
	defer rows.Close()
	var out []domain.CurriculumExpectation
	for rows.Next() {
		var e domain.CurriculumExpectation
		if err := rows.Scan(&e.ID, &e.Code, &e.Description, &e.AltDescription, &e.Strand, &e.Substrand, &e.Grade, &e.Subject, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=expectation.search_text: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=expectation.search_text: %w", err)
	}
	return out, nil
}

func scanExpectation(row pgx.Row) (domain.CurriculumExpectation, error) {
	var e domain.CurriculumExpectation
	if err := row.Scan(&e.ID, &e.Code, &e.Description, &e.AltDescription, &e.Strand, &e.Substrand, &e.Grade, &e.Subject, &e.CreatedAt); err != nil {
		return domain.CurriculumExpectation{}, err
	}
	return e, nil
}
