package attendance

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an enrollee does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when (enrollee, day) already has a record.
	ErrDuplicate = errors.New("attendance already recorded for day")
	// ErrEnrolleeExists is returned on a duplicate external id or email.
	ErrEnrolleeExists = errors.New("enrollee already exists")
	// ErrNoFacesDetected is returned when no enrollment image yielded a face.
	ErrNoFacesDetected = errors.New("no faces detected in any image")
	// ErrInvalidEnrollee is returned for missing required enrollee fields.
	ErrInvalidEnrollee = errors.New("invalid enrollee")
	// ErrInvalidRange is returned for malformed report dates.
	ErrInvalidRange = errors.New("invalid date range")
)

// DayLayout is the calendar-day format used for attendance days.
const DayLayout = "2006-01-02"

// StatusPresent is the only status the ledger writes.
const StatusPresent = "present"

// Enrollee is a person registered for recognition.
type Enrollee struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Email      *string   `json:"email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// EnrolleeSummary is an Enrollee with its face count, for listings.
type EnrolleeSummary struct {
	Enrollee
	FaceCount int `json:"face_count"`
}

// Face is one stored encoding for an enrollee.
type Face struct {
	ID         string
	EnrolleeID string
	Encoding   []float32
	ImageKey   string
	CreatedAt  time.Time
}

// IndexEntry is one row of the face index: an encoding and its owner.
type IndexEntry struct {
	Encoding   []float32
	EnrolleeID string
	Name       string
}

// Record is one attendance row. Day is the calendar day in the attendance
// time zone, formatted with DayLayout.
type Record struct {
	ID         string    `json:"id"`
	EnrolleeID string    `json:"enrollee_id"`
	Day        string    `json:"day"`
	MarkedAt   time.Time `json:"marked_at"`
	Status     string    `json:"status"`
}

// Row is an attendance record joined with enrollee details.
type Row struct {
	Record
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
}

// Day returns the calendar day of t in loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DayLayout)
}
