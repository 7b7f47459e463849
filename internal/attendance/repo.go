package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists lectures, sessions and attendance records in
// Postgres. The two uniqueness guarantees the engine rests on live here:
// a partial unique index on (lecture_id) WHERE active, and a unique
// constraint on (lecture_id, student_id). Both races are resolved by the
// database and remapped to their business kinds.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateLecture inserts a scheduled lecture.
func (r *Repository) CreateLecture(ctx context.Context, lec Lecture) (Lecture, error) {
	if lec.ID == "" {
		lec.ID = uuid.NewString()
	}
	if lec.Status == "" {
		lec.Status = LectureScheduled
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO lectures (id, course, title, teacher_id, location, starts_at, ends_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, lec.ID, lec.Course, lec.Title, lec.TeacherID, lec.Location, lec.StartsAt, lec.EndsAt, lec.Status)
	if err := row.Scan(&lec.CreatedAt); err != nil {
		return Lecture{}, err
	}
	return lec, nil
}

// GetLecture returns a lecture, or nil when the id does not resolve.
func (r *Repository) GetLecture(ctx context.Context, id string) (*Lecture, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, course, title, teacher_id, location, starts_at, ends_at, status, created_at
		FROM lectures WHERE id = $1
	`, id)
	var lec Lecture
	if err := row.Scan(&lec.ID, &lec.Course, &lec.Title, &lec.TeacherID, &lec.Location, &lec.StartsAt, &lec.EndsAt, &lec.Status, &lec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &lec, nil
}

// SetLectureStatus advances the lecture lifecycle.
func (r *Repository) SetLectureStatus(ctx context.Context, id string, status LectureStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE lectures SET status = $2 WHERE id = $1`, id, status)
	return err
}

// CreateSession inserts a fresh active session. A concurrent start for the
// same lecture loses to the partial unique index and comes back as
// AlreadyActive, leaving exactly one winner.
func (r *Repository) CreateSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Active = true
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lecture_sessions
			(id, lecture_id, classroom_code, qr_token, code_generated_at, qr_generated_at, window_minutes, started_at, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE)
	`, s.ID, s.LectureID, s.ClassroomCode, s.QRToken, s.CodeGeneratedAt, s.QRGeneratedAt, s.WindowMinutes, s.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Session{}, Reject(KindAlreadyActive, "an active session already exists for this lecture")
		}
		return Session{}, err
	}
	return s, nil
}

// GetActiveSession returns the live session for a lecture, or nil when
// none is active.
func (r *Repository) GetActiveSession(ctx context.Context, lectureID string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, lecture_id, classroom_code, qr_token, code_generated_at, qr_generated_at, window_minutes, started_at, active, ended_at
		FROM lecture_sessions
		WHERE lecture_id = $1 AND active
	`, lectureID)
	var s Session
	if err := row.Scan(&s.ID, &s.LectureID, &s.ClassroomCode, &s.QRToken, &s.CodeGeneratedAt, &s.QRGeneratedAt, &s.WindowMinutes, &s.StartedAt, &s.Active, &s.EndedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// RotateSessionCode swaps the classroom code and resets its generation
// timestamp. The write is conditioned on active so a rotation racing an
// end() affects zero rows instead of resurrecting the session.
func (r *Repository) RotateSessionCode(ctx context.Context, lectureID, code string, at time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE lecture_sessions
		SET classroom_code = $2, code_generated_at = $3
		WHERE lecture_id = $1 AND active
		RETURNING id, lecture_id, classroom_code, qr_token, code_generated_at, qr_generated_at, window_minutes, started_at, active, ended_at
	`, lectureID, code, at)
	return scanSession(row)
}

// RotateSessionQR swaps the QR token; the classroom code is untouched.
func (r *Repository) RotateSessionQR(ctx context.Context, lectureID, token string, at time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE lecture_sessions
		SET qr_token = $2, qr_generated_at = $3
		WHERE lecture_id = $1 AND active
		RETURNING id, lecture_id, classroom_code, qr_token, code_generated_at, qr_generated_at, window_minutes, started_at, active, ended_at
	`, lectureID, token, at)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.LectureID, &s.ClassroomCode, &s.QRToken, &s.CodeGeneratedAt, &s.QRGeneratedAt, &s.WindowMinutes, &s.StartedAt, &s.Active, &s.EndedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Reject(KindNoActiveSession, "no active session for this lecture")
		}
		return nil, err
	}
	return &s, nil
}

// EndSession soft-deletes the live session. The row is retained for audit.
func (r *Repository) EndSession(ctx context.Context, lectureID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE lecture_sessions
		SET active = FALSE, ended_at = $2
		WHERE lecture_id = $1 AND active
	`, lectureID, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return Reject(KindNoActiveSession, "no active session for this lecture")
	}
	return nil
}

// RecordExists reports whether the student already holds a record for the
// lecture. Advisory only; the insert's unique constraint is authoritative.
func (r *Repository) RecordExists(ctx context.Context, lectureID, studentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance_records WHERE lecture_id = $1 AND student_id = $2)
	`, lectureID, studentID).Scan(&exists)
	return exists, err
}

// InsertRecord writes the terminal attendance row. Losing the duplicate
// race to a concurrent claim surfaces as AlreadyMarked, not a fault.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, lecture_id, student_id, status, method, ip_address, marked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, rec.ID, rec.LectureID, rec.StudentID, rec.Status, rec.Method, rec.IPAddress, rec.MarkedAt)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Record{}, Reject(KindAlreadyMarked, "attendance already marked for this lecture")
		}
		return Record{}, err
	}
	return rec, nil
}

// GetRecord returns a record by id, or nil when missing.
func (r *Repository) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, lecture_id, student_id, status, method, ip_address, marked_at, correction_reason, corrected_by, created_at
		FROM attendance_records WHERE id = $1
	`, id)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.LectureID, &rec.StudentID, &rec.Status, &rec.Method, &rec.IPAddress, &rec.MarkedAt, &rec.CorrectionReason, &rec.CorrectedBy, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// CorrectRecord is the privileged path that mutates an existing record.
func (r *Repository) CorrectRecord(ctx context.Context, id string, status RecordStatus, reason, correctedBy string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = $2, correction_reason = $3, corrected_by = $4
		WHERE id = $1
	`, id, status, reason, correctedBy)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListRecords returns all attendance rows for a lecture, earliest first.
func (r *Repository) ListRecords(ctx context.Context, lectureID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, lecture_id, student_id, status, method, ip_address, marked_at, correction_reason, corrected_by, created_at
		FROM attendance_records
		WHERE lecture_id = $1
		ORDER BY marked_at
	`, lectureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.LectureID, &rec.StudentID, &rec.Status, &rec.Method, &rec.IPAddress, &rec.MarkedAt, &rec.CorrectionReason, &rec.CorrectedBy, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
