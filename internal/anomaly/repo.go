package anomaly

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// FlagRepo persists suspicious flags in Postgres. The detector is the
// only writer; resolution belongs to a reviewer.
type FlagRepo struct {
	db *sql.DB
}

// NewFlagRepo creates a repo.
func NewFlagRepo(db *sql.DB) *FlagRepo {
	return &FlagRepo{db: db}
}

// InsertFlag writes a new unresolved flag.
func (r *FlagRepo) InsertFlag(ctx context.Context, f Flag) (Flag, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suspicious_flags (id, lecture_id, student_id, kind, detail, resolved, created_at)
		VALUES ($1,$2,$3,$4,$5,FALSE,$6)
	`, f.ID, f.LectureID, f.StudentID, f.Kind, f.Detail, f.CreatedAt)
	if err != nil {
		return Flag{}, err
	}
	return f, nil
}

// ListUnresolved returns open flags for a lecture, newest first.
func (r *FlagRepo) ListUnresolved(ctx context.Context, lectureID string) ([]Flag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, lecture_id, student_id, kind, detail, resolved, created_at
		FROM suspicious_flags
		WHERE lecture_id = $1 AND NOT resolved
		ORDER BY created_at DESC
	`, lectureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Flag
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f.ID, &f.LectureID, &f.StudentID, &f.Kind, &f.Detail, &f.Resolved, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// Resolve marks a flag reviewed.
func (r *FlagRepo) Resolve(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE suspicious_flags SET resolved = TRUE WHERE id = $1`, id)
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
