package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"facemark/internal/metrics"
)

// Outcome of a mark attempt.
type Outcome string

const (
	OutcomeMarked        Outcome = "marked"
	OutcomeAlreadyMarked Outcome = "already_marked"
)

// MarkResult reports what Mark did. Record is the newly written row for
// OutcomeMarked and the existing row (when it could be read) otherwise.
type MarkResult struct {
	Outcome Outcome
	Record  *Record
}

// LedgerStore is the persistence the ledger needs.
type LedgerStore interface {
	FindAttendance(ctx context.Context, enrolleeID, day string) (*Record, error)
	InsertAttendance(ctx context.Context, rec Record) (Record, error)
}

// Ledger records at most one attendance per enrollee per calendar day.
type Ledger struct {
	repo   LedgerStore
	loc    *time.Location
	logger *slog.Logger
}

// NewLedger creates a ledger computing days in loc.
func NewLedger(repo LedgerStore, loc *time.Location, logger *slog.Logger) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, loc: loc, logger: logger}
}

// Location returns the time zone days are computed in.
func (l *Ledger) Location() *time.Location { return l.loc }

// Mark records attendance for enrolleeID on the day containing at. A second
// mark on the same day, including one that loses a concurrent race, reports
// OutcomeAlreadyMarked without writing.
func (l *Ledger) Mark(ctx context.Context, enrolleeID string, at time.Time) (MarkResult, error) {
	if enrolleeID == "" {
		return MarkResult{}, errors.New("enrollee id required")
	}
	day := Day(at, l.loc)

	existing, err := l.repo.FindAttendance(ctx, enrolleeID, day)
	if err != nil {
		metrics.AttendanceMarks.WithLabelValues("failed").Inc()
		return MarkResult{}, err
	}
	if existing != nil {
		metrics.AttendanceMarks.WithLabelValues(string(OutcomeAlreadyMarked)).Inc()
		return MarkResult{Outcome: OutcomeAlreadyMarked, Record: existing}, nil
	}

	rec, err := l.repo.InsertAttendance(ctx, Record{
		EnrolleeID: enrolleeID,
		Day:        day,
		MarkedAt:   at,
		Status:     StatusPresent,
	})
	if errors.Is(err, ErrDuplicate) {
		l.logger.Debug("concurrent mark lost race", "enrollee_id", enrolleeID, "day", day)
		metrics.AttendanceMarks.WithLabelValues(string(OutcomeAlreadyMarked)).Inc()
		existing, findErr := l.repo.FindAttendance(ctx, enrolleeID, day)
		if findErr != nil {
			existing = nil
		}
		return MarkResult{Outcome: OutcomeAlreadyMarked, Record: existing}, nil
	}
	if err != nil {
		metrics.AttendanceMarks.WithLabelValues("failed").Inc()
		return MarkResult{}, err
	}

	metrics.AttendanceMarks.WithLabelValues(string(OutcomeMarked)).Inc()
	l.logger.Info("attendance marked", "enrollee_id", enrolleeID, "day", day)
	return MarkResult{Outcome: OutcomeMarked, Record: &rec}, nil
}
