package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
	"github.com/fairyhunter13/curriculum-catalog/internal/observability"
	"github.com/fairyhunter13/curriculum-catalog/pkg/textx"
)

// ConfirmEngine deduplicates staged records against the catalog and inserts
// the new ones. It performs no session status transitions; SessionService
// owns those.
type ConfirmEngine struct {
	Expectations domain.ExpectationRepository
}

// NewConfirmEngine constructs a ConfirmEngine with the given repo.
func NewConfirmEngine(expectations domain.ExpectationRepository) ConfirmEngine {
	return ConfirmEngine{Expectations: expectations}
}

// ConfirmResult reports the per-batch outcome: Created counts only new
// inserts, Skipped counts natural-key duplicates (expected, not errors), and
// Errors carries one message per failed record.
type ConfirmResult struct {
	Created        int
	Skipped        int
	Errors         []string
	CreatedRecords []domain.CurriculumExpectation
}

// Confirm flattens the subject-grouped staged list in order and commits each
// candidate independently: a duplicate is skipped silently, a failed insert
// is logged and the batch continues. The existence check is an optimization
// only; the unique index on (code, grade, subject) is the authority, and a
// constraint violation during insert also counts as a skip.
func (e ConfirmEngine) Confirm(ctx domain.Context, staged []domain.StagedSubject) ConfirmResult {
	var res ConfirmResult
	for _, subject := range staged {
		for _, cand := range subject.Expectations {
			if _, err := e.Expectations.FindByNaturalKey(ctx, cand.Code, cand.Grade, cand.Subject); err == nil {
				res.Skipped++
				observability.ExpectationsSkippedTotal.Inc()
				continue
			}
			// lookup miss or lookup failure both fall through; the insert
			// and its unique constraint decide
			rec := domain.CurriculumExpectation{
				Code:           cand.Code,
				Description:    cand.Description,
				AltDescription: cand.AltDescription,
				Strand:         cand.Strand,
				Substrand:      cand.Substrand,
				Grade:          cand.Grade,
				Subject:        cand.Subject,
				CreatedAt:      time.Now().UTC(),
			}
			id, err := e.Expectations.Create(ctx, rec)
			switch {
			case err == nil:
				rec.ID = id
				res.Created++
				res.CreatedRecords = append(res.CreatedRecords, rec)
				observability.ExpectationsCreatedTotal.Inc()
			case errors.Is(err, domain.ErrConflict):
				// a concurrent confirm inserted the same natural key first
				res.Skipped++
				observability.ExpectationsSkippedTotal.Inc()
			default:
				res.Errors = append(res.Errors, fmt.Sprintf("failed to import %s (%s, grade %d): %s",
					cand.Code, cand.Subject, cand.Grade, textx.Truncate(err.Error(), 200)))
			}
		}
	}
	return res
}
