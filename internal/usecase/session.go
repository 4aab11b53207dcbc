// Package usecase contains application business logic services.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
	"github.com/fairyhunter13/curriculum-catalog/internal/ingest"
	"github.com/fairyhunter13/curriculum-catalog/internal/observability"
	"github.com/fairyhunter13/curriculum-catalog/internal/preset"
)

// SessionService drives the import session lifecycle: start, ingest, confirm,
// progress, and history. Status moves monotonically forward; the storage layer
// enforces the confirm precondition with a conditional update so concurrent
// confirms cannot both win.
type SessionService struct {
	Sessions        domain.SessionRepository
	Presets         *preset.Catalog
	Engine          ConfirmEngine
	Indexer         IndexerService
	MaxHistoryLimit int
}

// NewSessionService constructs a SessionService with its dependencies.
func NewSessionService(sessions domain.SessionRepository, presets *preset.Catalog, engine ConfirmEngine, indexer IndexerService, maxHistory int) SessionService {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return SessionService{Sessions: sessions, Presets: presets, Engine: engine, Indexer: indexer, MaxHistoryLimit: maxHistory}
}

// Start creates a session in UPLOADING and returns its id.
func (s SessionService) Start(ctx domain.Context, ownerID string, grade int, subject, sourceFormat string) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("%w: owner required", domain.ErrInvalidArgument)
	}
	if !domain.ValidSourceFormat(sourceFormat) {
		return "", fmt.Errorf("%w: unknown source format %q", domain.ErrInvalidArgument, sourceFormat)
	}
	now := time.Now().UTC()
	id, err := s.Sessions.Create(ctx, domain.ImportSession{
		OwnerID:      ownerID,
		Grade:        grade,
		Subject:      subject,
		SourceFormat: sourceFormat,
		Status:       domain.SessionUploading,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return "", err
	}
	observability.SessionsStartedTotal.WithLabelValues(sourceFormat).Inc()
	return id, nil
}

// IngestCSV parses raw delimited text, stages the result on the session, and
// transitions it to READY_FOR_REVIEW. Parsing happens before any session
// mutation so a bad header leaves the session untouched.
func (s SessionService) IngestCSV(ctx domain.Context, sessionID, raw string) ([]domain.StagedSubject, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	subjects, err := ingest.ParseCSV(raw)
	if err != nil {
		return nil, err
	}
	if err := s.stage(ctx, sess, subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

// IngestPreset stages a bundled dataset on the session, exactly like CSV data.
func (s SessionService) IngestPreset(ctx domain.Context, sessionID, presetID string) ([]domain.StagedSubject, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ds, err := s.Presets.Load(presetID)
	if err != nil {
		return nil, err
	}
	if err := s.stage(ctx, sess, ds.Subjects); err != nil {
		return nil, err
	}
	return ds.Subjects, nil
}

func (s SessionService) stage(ctx domain.Context, sess domain.ImportSession, subjects []domain.StagedSubject) error {
	total := domain.CountExpectations(subjects)
	if err := s.Sessions.SetStaged(ctx, sess.ID, subjects, total); err != nil {
		if isConflict(err) {
			// the conditional update is the authority on the current status;
			// the snapshot read above may already be stale
			return fmt.Errorf("%w: import is not accepting data", domain.ErrInvalidState)
		}
		return err
	}
	return nil
}

// Confirm commits staged records into the catalog and completes the session.
// Requires READY_FOR_REVIEW; a re-confirm of a COMPLETED session is rejected.
// A batch where every staged record fails to import marks the session FAILED
// instead of COMPLETED. Returns the number of newly created catalog records.
func (s SessionService) Confirm(ctx domain.Context, sessionID string) (int, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if sess.Status != domain.SessionReadyForReview {
		return 0, fmt.Errorf("%w: import is not ready for confirmation", domain.ErrInvalidState)
	}

	res := s.Engine.Confirm(ctx, sess.StagedData)

	errLog := append(sess.ErrorLog, res.Errors...) //nolint:gocritic // new slice intended
	if res.Created == 0 && res.Skipped == 0 && len(res.Errors) > 0 {
		// nothing committed and nothing deduplicated: total failure
		if ferr := s.Sessions.Fail(ctx, sessionID, errLog); ferr != nil {
			return 0, ferr
		}
		slog.Error("confirm failed for every staged record",
			slog.String("session_id", sessionID), slog.Int("failures", len(res.Errors)))
		return 0, fmt.Errorf("op=session.confirm: all %d records failed to import", len(res.Errors))
	}
	if err := s.Sessions.Complete(ctx, sessionID, res.Created, errLog); err != nil {
		if isConflict(err) {
			// lost the race to a concurrent confirm; its inserts are the same
			// records, so reject without double counting
			return 0, fmt.Errorf("%w: import is not ready for confirmation", domain.ErrInvalidState)
		}
		return 0, err
	}
	observability.SessionsConfirmedTotal.Inc()

	// Embedding generation is best-effort; a provider outage must not fail the
	// confirm that already committed.
	if n := s.Indexer.IndexExpectations(ctx, res.CreatedRecords); n < len(res.CreatedRecords) {
		slog.Info("deferred embedding generation for some records",
			slog.Int("indexed", n), slog.Int("created", len(res.CreatedRecords)))
	}
	return res.Created, nil
}

// Progress is the caller-visible snapshot of one session.
type Progress struct {
	Status            domain.SessionStatus `json:"status"`
	TotalOutcomes     int                  `json:"total_outcomes"`
	ProcessedOutcomes int                  `json:"processed_outcomes"`
	Errors            []string             `json:"errors"`
}

// GetProgress returns counters and error log for a session.
func (s SessionService) GetProgress(ctx domain.Context, sessionID string) (Progress, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return Progress{}, err
	}
	errs := sess.ErrorLog
	if errs == nil {
		errs = []string{}
	}
	return Progress{
		Status:            sess.Status,
		TotalOutcomes:     sess.TotalOutcomes,
		ProcessedOutcomes: sess.ProcessedOutcomes,
		Errors:            errs,
	}, nil
}

// ListHistory returns the owner's past sessions, most recent first.
func (s SessionService) ListHistory(ctx domain.Context, ownerID string, limit int) ([]domain.ImportSession, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner required", domain.ErrInvalidArgument)
	}
	if limit <= 0 || limit > s.MaxHistoryLimit {
		limit = s.MaxHistoryLimit
	}
	return s.Sessions.ListByOwner(ctx, ownerID, limit)
}

func isConflict(err error) bool { return errors.Is(err, domain.ErrConflict) }
