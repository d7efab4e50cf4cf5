package attendance

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"
)

// ReportStore is the read side the reports need.
type ReportStore interface {
	ListEnrollees(ctx context.Context) ([]EnrolleeSummary, error)
	CountEnrollees(ctx context.Context) (int, error)
	CountAttendance(ctx context.Context, day string) (int, error)
	ListAttendance(ctx context.Context, from, to string) ([]Row, error)
}

// Stats is the dashboard summary for one day.
type Stats struct {
	Day            string `json:"day"`
	TotalEnrollees int    `json:"total_enrollees"`
	PresentToday   int    `json:"present_today"`
	AbsentToday    int    `json:"absent_today"`
}

// RangeEntry summarizes one enrollee over a date range.
type RangeEntry struct {
	EnrolleeID   string   `json:"enrollee_id"`
	Name         string   `json:"name"`
	ExternalID   string   `json:"external_id"`
	PresentCount int      `json:"present_count"`
	Dates        []string `json:"dates"`
}

// Reports answers read-only attendance queries.
type Reports struct {
	repo ReportStore
	loc  *time.Location
}

// NewReports creates reports computing "today" in loc.
func NewReports(repo ReportStore, loc *time.Location) *Reports {
	if loc == nil {
		loc = time.Local
	}
	return &Reports{repo: repo, loc: loc}
}

// Today lists today's records, newest first.
func (r *Reports) Today(ctx context.Context, now time.Time) ([]Row, error) {
	day := Day(now, r.loc)
	rows, err := r.repo.ListAttendance(ctx, day, day)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].MarkedAt.After(rows[j].MarkedAt) })
	return rows, nil
}

// Stats returns enrollee and presence counts for today.
func (r *Reports) Stats(ctx context.Context, now time.Time) (Stats, error) {
	day := Day(now, r.loc)
	total, err := r.repo.CountEnrollees(ctx)
	if err != nil {
		return Stats{}, err
	}
	present, err := r.repo.CountAttendance(ctx, day)
	if err != nil {
		return Stats{}, err
	}
	absent := total - present
	if absent < 0 {
		absent = 0
	}
	return Stats{Day: day, TotalEnrollees: total, PresentToday: present, AbsentToday: absent}, nil
}

// Range aggregates attendance per enrollee for from <= day <= to. Every
// enrollee is listed, including those with no attendance in the range.
// Entries are ordered by name.
func (r *Reports) Range(ctx context.Context, from, to string) ([]RangeEntry, error) {
	if err := validRange(from, to); err != nil {
		return nil, err
	}
	enrollees, err := r.repo.ListEnrollees(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.repo.ListAttendance(ctx, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]RangeEntry, len(enrollees))
	byID := make(map[string]*RangeEntry, len(enrollees))
	for i, e := range enrollees {
		out[i] = RangeEntry{EnrolleeID: e.ID, Name: e.Name, ExternalID: e.ExternalID, Dates: []string{}}
		byID[e.ID] = &out[i]
	}
	for _, row := range rows {
		e, ok := byID[row.EnrolleeID]
		if !ok {
			continue
		}
		e.PresentCount++
		e.Dates = append(e.Dates, row.Day)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out, nil
}

// timeLayout is the CSV Time column: the full local timestamp, since the
// local day of a mark can differ from its UTC date.
const timeLayout = "2006-01-02 15:04:05"

// ExportCSV writes the records for from <= day <= to as CSV, ordered by
// date, name and time.
func (r *Reports) ExportCSV(ctx context.Context, w io.Writer, from, to string) error {
	if err := validRange(from, to); err != nil {
		return err
	}
	rows, err := r.repo.ListAttendance(ctx, from, to)
	if err != nil {
		return err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Day != rows[j].Day {
			return rows[i].Day < rows[j].Day
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].MarkedAt.Before(rows[j].MarkedAt)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Name", "External ID", "Date", "Time", "Status"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Name,
			row.ExternalID,
			row.Day,
			row.MarkedAt.In(r.loc).Format(timeLayout),
			row.Status,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func validRange(from, to string) error {
	f, err := time.Parse(DayLayout, from)
	if err != nil {
		return fmt.Errorf("%w: start date %q", ErrInvalidRange, from)
	}
	t, err := time.Parse(DayLayout, to)
	if err != nil {
		return fmt.Errorf("%w: end date %q", ErrInvalidRange, to)
	}
	if t.Before(f) {
		return fmt.Errorf("%w: end date before start date", ErrInvalidRange)
	}
	return nil
}
