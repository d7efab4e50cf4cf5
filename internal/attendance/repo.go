package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"facemark/internal/store"
)

// Repository persists enrollees, face encodings and attendance. The SQL is
// shared by Postgres and SQLite; both accept $N placeholders.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// WithTx runs fn inside a transaction, rolling back on error.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// UpsertDevice ensures a device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID, time.Now().UTC())
	return err
}

// CreateEnrollee inserts the enrollee and all of its faces atomically.
// A duplicate external id or email yields ErrEnrolleeExists.
func (r *Repository) CreateEnrollee(ctx context.Context, e *Enrollee, faces []Face) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO enrollees (id, external_id, name, email, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, e.ID, e.ExternalID, e.Name, e.Email, e.CreatedAt); err != nil {
			return err
		}
		for i := range faces {
			f := &faces[i]
			if f.ID == "" {
				f.ID = uuid.NewString()
			}
			f.EnrolleeID = e.ID
			f.CreatedAt = e.CreatedAt
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO faces (id, enrollee_id, encoding, image_key, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, f.ID, f.EnrolleeID, pgvector.NewVector(f.Encoding), f.ImageKey, f.CreatedAt); err != nil {
				return fmt.Errorf("insert face: %w", err)
			}
		}
		return nil
	})
	if store.IsUniqueViolation(err) {
		return ErrEnrolleeExists
	}
	return err
}

// GetEnrollee returns an enrollee by id, or nil when absent.
func (r *Repository) GetEnrollee(ctx context.Context, id string) (*Enrollee, error) {
	return r.getEnrollee(ctx, `WHERE id = $1`, id)
}

// GetEnrolleeByExternalID returns an enrollee by external id, or nil when absent.
func (r *Repository) GetEnrolleeByExternalID(ctx context.Context, externalID string) (*Enrollee, error) {
	return r.getEnrollee(ctx, `WHERE external_id = $1`, externalID)
}

func (r *Repository) getEnrollee(ctx context.Context, where string, arg any) (*Enrollee, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, email, created_at
		FROM enrollees `+where, arg)
	var e Enrollee
	if err := row.Scan(&e.ID, &e.ExternalID, &e.Name, &e.Email, scanTime(&e.CreatedAt)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// ListEnrollees returns all enrollees with their face counts.
func (r *Repository) ListEnrollees(ctx context.Context) ([]EnrolleeSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.external_id, e.name, e.email, e.created_at, COUNT(f.id)
		FROM enrollees e
		LEFT JOIN faces f ON f.enrollee_id = e.id
		GROUP BY e.id, e.external_id, e.name, e.email, e.created_at
		ORDER BY e.name, e.external_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnrolleeSummary
	for rows.Next() {
		var s EnrolleeSummary
		if err := rows.Scan(&s.ID, &s.ExternalID, &s.Name, &s.Email, scanTime(&s.CreatedAt), &s.FaceCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountEnrollees returns the number of enrollees.
func (r *Repository) CountEnrollees(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrollees`).Scan(&n)
	return n, err
}

// FaceImageKeys lists the stored image keys for an enrollee.
func (r *Repository) FaceImageKeys(ctx context.Context, enrolleeID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT image_key FROM faces WHERE enrollee_id = $1 ORDER BY created_at, id`, enrolleeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteEnrollee removes an enrollee with its faces and attendance in one
// transaction. It reports whether a row was deleted.
func (r *Repository) DeleteEnrollee(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE enrollee_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM faces WHERE enrollee_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM enrollees WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// LoadFaceIndex returns every stored encoding with its owner, in a stable
// order (face creation time, then id).
func (r *Repository) LoadFaceIndex(ctx context.Context) ([]IndexEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.encoding, e.id, e.name
		FROM faces f
		JOIN enrollees e ON e.id = f.enrollee_id
		ORDER BY f.created_at, f.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var (
			vec   pgvector.Vector
			entry IndexEntry
		)
		if err := rows.Scan(&vec, &entry.EnrolleeID, &entry.Name); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		entry.Encoding = vec.Slice()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// FindAttendance returns the record for (enrollee, day), or nil when absent.
func (r *Repository) FindAttendance(ctx context.Context, enrolleeID, day string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, enrollee_id, day, marked_at, status
		FROM attendance
		WHERE enrollee_id = $1 AND day = $2
	`, enrolleeID, day)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.EnrolleeID, scanDay(&rec.Day), scanTime(&rec.MarkedAt), &rec.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// InsertAttendance writes a new record. A record already present for the
// same (enrollee, day) yields ErrDuplicate.
func (r *Repository) InsertAttendance(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now()
	}
	rec.MarkedAt = rec.MarkedAt.UTC()
	if rec.Status == "" {
		rec.Status = StatusPresent
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, enrollee_id, day, marked_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.EnrolleeID, rec.Day, rec.MarkedAt, rec.Status)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Record{}, ErrDuplicate
		}
		return Record{}, err
	}
	return rec, nil
}

// CountAttendance returns how many records exist for a day.
func (r *Repository) CountAttendance(ctx context.Context, day string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance WHERE day = $1`, day).Scan(&n)
	return n, err
}

// ListAttendance returns joined records with from <= day <= to, ordered by
// day then mark time.
func (r *Repository) ListAttendance(ctx context.Context, from, to string) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.enrollee_id, a.day, a.marked_at, a.status, e.name, e.external_id
		FROM attendance a
		JOIN enrollees e ON e.id = a.enrollee_id
		WHERE a.day >= $1 AND a.day <= $2
		ORDER BY a.day, a.marked_at, e.name
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.EnrolleeID, scanDay(&row.Day), scanTime(&row.MarkedAt), &row.Status, &row.Name, &row.ExternalID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
