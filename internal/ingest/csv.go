// Package ingest parses delimited curriculum exports into staged records.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
	"github.com/fairyhunter13/curriculum-catalog/pkg/textx"
)

// Defaults applied when an optional column is absent from the header.
const (
	DefaultSubject = "Unknown"
	DefaultGrade   = 0
)

// Column names recognized in the header. "domain" is accepted as an alias for
// "strand" because several provincial exports use it.
const (
	colCode          = "code"
	colDescription   = "description"
	colDescriptionFr = "description_fr"
	colSubject       = "subject"
	colGrade         = "grade"
	colStrand        = "strand"
	colDomain        = "domain"
	colSubstrand     = "substrand"
)

// ParseCSV parses UTF-8 comma-delimited text into subject-grouped staged
// records. The first line must be a header naming columns exactly; "code" and
// "description" are required and validated before any row is read. Standard
// double-quote quoting applies and blank lines between rows are skipped.
// Row order is preserved; subjects appear in first-seen order.
func ParseCSV(raw string) ([]domain.StagedSubject, error) {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = -1 // rows may omit trailing optional fields

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: must contain \"code\" and \"description\" columns", domain.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("op=ingest.header: %w: %v", domain.ErrInvalidArgument, err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := idx[colCode]; !ok {
		return nil, fmt.Errorf("%w: must contain \"code\" and \"description\" columns", domain.ErrInvalidArgument)
	}
	if _, ok := idx[colDescription]; !ok {
		return nil, fmt.Errorf("%w: must contain \"code\" and \"description\" columns", domain.ErrInvalidArgument)
	}
	strandIdx, hasStrand := idx[colStrand]
	if !hasStrand {
		strandIdx, hasStrand = idx[colDomain]
	}

	field := func(row []string, i int, ok bool) string {
		if !ok || i >= len(row) {
			return ""
		}
		return textx.SanitizeText(row[i])
	}

	var subjects []domain.StagedSubject
	byName := make(map[string]int)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("op=ingest.row: %w: %v", domain.ErrInvalidArgument, err)
		}
		code := field(row, idx[colCode], true)
		desc := field(row, idx[colDescription], true)
		if code == "" && desc == "" {
			// row carried only delimiter noise
			continue
		}

		subject := DefaultSubject
		if i, ok := idx[colSubject]; ok {
			if v := field(row, i, true); v != "" {
				subject = v
			}
		}
		grade := DefaultGrade
		if i, ok := idx[colGrade]; ok {
			if v := field(row, i, true); v != "" {
				if n, convErr := strconv.Atoi(v); convErr == nil {
					grade = n
				}
			}
		}

		exp := domain.StagedExpectation{
			Code:           code,
			Description:    desc,
			AltDescription: field(row, idx[colDescriptionFr], hasCol(idx, colDescriptionFr)),
			Strand:         field(row, strandIdx, hasStrand),
			Substrand:      field(row, idx[colSubstrand], hasCol(idx, colSubstrand)),
			Grade:          grade,
			Subject:        subject,
		}

		pos, seen := byName[subject]
		if !seen {
			pos = len(subjects)
			byName[subject] = pos
			subjects = append(subjects, domain.StagedSubject{Name: subject})
		}
		subjects[pos].Expectations = append(subjects[pos].Expectations, exp)
	}
	return subjects, nil
}

func hasCol(idx map[string]int, name string) bool {
	_, ok := idx[name]
	return ok
}
