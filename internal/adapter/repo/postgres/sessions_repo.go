package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
)

// SessionRepo persists and loads import sessions from PostgreSQL.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

const sessionColumns = `id, owner_id, grade, subject, source_format, status, total_outcomes, processed_outcomes, error_log, staged_data, created_at, updated_at`

// Create inserts a new session and returns its id.
func (r *SessionRepo) Create(ctx domain.Context, s domain.ImportSession) (string, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Create")
	defer span.End()
	id := s.ID
	if id == "" {
		id = ulid.Make().String()
	}
	errLog, staged, err := marshalSessionJSON(s.ErrorLog, s.StagedData)
	if err != nil {
		return "", fmt.Errorf("op=session.create: %w", err)
	}
	q := `INSERT INTO import_sessions (` + sessionColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	now := time.Now().UTC()
	_, err = r.Pool.Exec(ctx, q, id, s.OwnerID, s.Grade, s.Subject, s.SourceFormat, s.Status, s.TotalOutcomes, s.ProcessedOutcomes, errLog, staged, now, now)
	if err != nil {
		return "", fmt.Errorf("op=session.create: %w", err)
	}
	return id, nil
}

// Get loads a session by id.
func (r *SessionRepo) Get(ctx domain.Context, id string) (domain.ImportSession, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Get")
	defer span.End()
	q := `SELECT ` + sessionColumns + ` FROM import_sessions WHERE id=$1`
	s, err := scanSession(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ImportSession{}, fmt.Errorf("op=session.get: %w", domain.ErrNotFound)
		}
		return domain.ImportSession{}, fmt.Errorf("op=session.get: %w", err)
	}
	return s, nil
}

// SetStaged stores staged data and transitions the session to READY_FOR_REVIEW.
// The update is conditional on a pre-review status so a terminal session can
// never regress.
func (r *SessionRepo) SetStaged(ctx domain.Context, id string, staged []domain.StagedSubject, total int) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.SetStaged")
	defer span.End()
	raw, err := json.Marshal(staged)
	if err != nil {
		return fmt.Errorf("op=session.set_staged: %w", err)
	}
	q := `UPDATE import_sessions SET staged_data=$2, total_outcomes=$3, status=$4, updated_at=$5
		WHERE id=$1 AND status IN ($6, $7)`
	tag, err := r.Pool.Exec(ctx, q, id, raw, total, domain.SessionReadyForReview, time.Now().UTC(), domain.SessionUploading, domain.SessionProcessing)
	if err != nil {
		return fmt.Errorf("op=session.set_staged: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=session.set_staged: %w", domain.ErrConflict)
	}
	return nil
}

// Complete transitions READY_FOR_REVIEW -> COMPLETED in a single conditional
// update; concurrent confirms race here and exactly one wins.
func (r *SessionRepo) Complete(ctx domain.Context, id string, processed int, errLog []string) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Complete")
	defer span.End()
	raw, err := json.Marshal(emptyIfNil(errLog))
	if err != nil {
		return fmt.Errorf("op=session.complete: %w", err)
	}
	q := `UPDATE import_sessions SET status=$2, processed_outcomes=$3, error_log=$4, updated_at=$5
		WHERE id=$1 AND status=$6`
	tag, err := r.Pool.Exec(ctx, q, id, domain.SessionCompleted, processed, raw, time.Now().UTC(), domain.SessionReadyForReview)
	if err != nil {
		return fmt.Errorf("op=session.complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=session.complete: %w", domain.ErrConflict)
	}
	return nil
}

// Fail marks a non-terminal session FAILED with the given error log.
func (r *SessionRepo) Fail(ctx domain.Context, id string, errLog []string) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Fail")
	defer span.End()
	raw, err := json.Marshal(emptyIfNil(errLog))
	if err != nil {
		return fmt.Errorf("op=session.fail: %w", err)
	}
	q := `UPDATE import_sessions SET status=$2, error_log=$3, updated_at=$4
		WHERE id=$1 AND status NOT IN ($5, $6)`
	_, err = r.Pool.Exec(ctx, q, id, domain.SessionFailed, raw, time.Now().UTC(), domain.SessionCompleted, domain.SessionFailed)
	if err != nil {
		return fmt.Errorf("op=session.fail: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's sessions, most recent first.
func (r *SessionRepo) ListByOwner(ctx domain.Context, ownerID string, limit int) ([]domain.ImportSession, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.ListByOwner")
	defer span.End()
	q := `SELECT ` + sessionColumns + ` FROM import_sessions WHERE owner_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=session.list: %w", err)
	}
	defer rows.Close()
	var out []domain.ImportSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("op=session.list: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=session.list: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (domain.ImportSession, error) {
	var s domain.ImportSession
	var errLog, staged []byte
	if err := row.Scan(&s.ID, &s.OwnerID, &s.Grade, &s.Subject, &s.SourceFormat, &s.Status, &s.TotalOutcomes, &s.ProcessedOutcomes, &errLog, &staged, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.ImportSession{}, err
	}
	if len(errLog) > 0 {
		if err := json.Unmarshal(errLog, &s.ErrorLog); err != nil {
			return domain.ImportSession{}, err
		}
	}
	if len(staged) > 0 {
		if err := json.Unmarshal(staged, &s.StagedData); err != nil {
			return domain.ImportSession{}, err
		}
	}
	return s, nil
}

func marshalSessionJSON(errLog []string, staged []domain.StagedSubject) ([]byte, []byte, error) {
	el, err := json.Marshal(emptyIfNil(errLog))
	if err != nil {
		return nil, nil, err
	}
	if staged == nil {
		staged = []domain.StagedSubject{}
	}
	sd, err := json.Marshal(staged)
	if err != nil {
		return nil, nil, err
	}
	return el, sd, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
