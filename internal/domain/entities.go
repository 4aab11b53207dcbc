package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrInternal        = errors.New("internal error")
)

// SourceFormat enumerates where a session's staged data came from.
const (
	SourceManual = "manual"
	SourceCSV    = "csv"
	SourcePreset = "preset"
)

// ValidSourceFormat reports whether s is a known source format.
func ValidSourceFormat(s string) bool {
	return s == SourceManual || s == SourceCSV || s == SourcePreset
}

type SessionStatus string

// Session statuses. Transitions are monotonic forward:
// UPLOADING -> PROCESSING -> READY_FOR_REVIEW -> {COMPLETED | FAILED}.
const (
	SessionUploading      SessionStatus = "UPLOADING"
	SessionProcessing     SessionStatus = "PROCESSING"
	SessionReadyForReview SessionStatus = "READY_FOR_REVIEW"
	SessionCompleted      SessionStatus = "COMPLETED"
	SessionFailed         SessionStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// StagedExpectation is the single normalized staging shape shared by the CSV
// and preset sources. It exists only on a session until confirm.
type StagedExpectation struct {
	Code           string `json:"code" yaml:"code"`
	Description    string `json:"description" yaml:"description"`
	AltDescription string `json:"alt_description,omitempty" yaml:"alt_description,omitempty"`
	Strand         string `json:"strand,omitempty" yaml:"strand,omitempty"`
	Substrand      string `json:"substrand,omitempty" yaml:"substrand,omitempty"`
	Grade          int    `json:"grade" yaml:"grade"`
	Subject        string `json:"subject" yaml:"subject"`
}

// StagedSubject groups staged expectations under one subject name.
type StagedSubject struct {
	Name         string              `json:"name" yaml:"name"`
	Expectations []StagedExpectation `json:"expectations" yaml:"expectations"`
}

// CountExpectations returns the total number of expectations across subjects.
func CountExpectations(subjects []StagedSubject) int {
	n := 0
	for _, s := range subjects {
		n += len(s.Expectations)
	}
	return n
}

// ImportSession tracks one staged import through review and confirmation.
// Invariants: status only moves forward; StagedData is immutable once the
// session is terminal; ProcessedOutcomes <= TotalOutcomes.
type ImportSession struct {
	ID                string
	OwnerID           string
	Grade             int
	Subject           string
	SourceFormat      string
	Status            SessionStatus
	TotalOutcomes     int
	ProcessedOutcomes int
	ErrorLog          []string
	StagedData        []StagedSubject
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CurriculumExpectation is a permanent catalog record. The natural key is
// (code, grade, subject); the storage layer enforces it as a unique index.
type CurriculumExpectation struct {
	ID             string
	Code           string
	Description    string
	AltDescription string
	Strand         string
	Substrand      string
	Grade          int
	Subject        string
	CreatedAt      time.Time
}

// ExpectationEmbedding is an expectation's similarity vector (at most one per
// record; generation is best-effort so many records will not have one).
type ExpectationEmbedding struct {
	ExpectationID string
	Vector        []float32
	Model         string
	UpdatedAt     time.Time
}

// ExpectationFilter narrows catalog queries. Zero values mean "no filter";
// Grade uses a pointer because grade 0 is a valid value (kindergarten).
type ExpectationFilter struct {
	Subject string
	Grade   *int
	Strand  string
}

// ScoredExpectation annotates a catalog record with a similarity score.
// Score is nil for results produced by the textual fallback.
type ScoredExpectation struct {
	Expectation CurriculumExpectation
	Score       *float64
}

// Repositories (ports)

type SessionRepository interface {
	Create(ctx Context, s ImportSession) (string, error)
	Get(ctx Context, id string) (ImportSession, error)
	// SetStaged stores staged data and counters and transitions the session to
	// READY_FOR_REVIEW.
	SetStaged(ctx Context, id string, staged []StagedSubject, total int) error
	// Complete transitions READY_FOR_REVIEW -> COMPLETED in a single
	// conditional update, recording the processed count and error log.
	// Returns ErrConflict when the session is not in READY_FOR_REVIEW.
	Complete(ctx Context, id string, processed int, errLog []string) error
	// Fail marks the session FAILED with the given error log.
	Fail(ctx Context, id string, errLog []string) error
	ListByOwner(ctx Context, ownerID string, limit int) ([]ImportSession, error)
}

type ExpectationRepository interface {
	// Create inserts a new catalog record. A natural-key uniqueness violation
	// is returned as ErrConflict so callers can treat it as a dedup skip.
	Create(ctx Context, e CurriculumExpectation) (string, error)
	FindByNaturalKey(ctx Context, code string, grade int, subject string) (CurriculumExpectation, error)
	Get(ctx Context, id string) (CurriculumExpectation, error)
	// ListWithEmbeddings returns filtered records joined with their stored
	// vectors; records without an embedding are excluded.
	ListWithEmbeddings(ctx Context, f ExpectationFilter) ([]CurriculumExpectation, [][]float32, error)
	// SearchText is the embedding-free fallback: case-insensitive substring
	// match over code/description/alt-description/strand, ordered by code.
	SearchText(ctx Context, query string, f ExpectationFilter, limit int) ([]CurriculumExpectation, error)
}

type EmbeddingRepository interface {
	// Upsert replaces any prior vector for the expectation.
	Upsert(ctx Context, e ExpectationEmbedding) error
	Get(ctx Context, expectationID string) (ExpectationEmbedding, error)
}

// EmbeddingClient (port) turns texts into fixed-length vectors via an
// external provider. Implementations must respect ctx deadlines.
type EmbeddingClient interface {
	Embed(ctx Context, texts []string) ([][]float32, error)
}

// Context is an alias so the domain package does not spell out std context in
// every port signature. Adapters pass context.Context straight through.
type Context = context.Context
