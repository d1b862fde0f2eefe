package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/tutor-call/internal/models"
)

const sessionColumns = `id, learner_id, teacher_id, scheduled_time, status, created_at`

// CreateSession books a session in the requested state.
func (d *DB) CreateSession(ctx context.Context, learnerID, teacherID string, at time.Time) (models.ScheduledSession, error) {
	s := models.ScheduledSession{
		ID:            uuid.NewString(),
		LearnerID:     learnerID,
		TeacherID:     teacherID,
		ScheduledTime: at.UTC(),
		Status:        models.SessionRequested,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO scheduled_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.LearnerID, s.TeacherID, formatTime(s.ScheduledTime), string(s.Status), formatTime(s.CreatedAt))
	if err != nil {
		return models.ScheduledSession{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// ListSessions returns the sessions where userID takes the given role, oldest first.
func (d *DB) ListSessions(ctx context.Context, role models.Role, userID string) ([]models.ScheduledSession, error) {
	column := "learner_id"
	if role == models.RoleTeacher {
		column = "teacher_id"
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM scheduled_sessions
		WHERE `+column+` = ? ORDER BY scheduled_time`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.ScheduledSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (d *DB) Session(ctx context.Context, id string) (models.ScheduledSession, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM scheduled_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ScheduledSession{}, ErrNotFound
	}
	return s, err
}

// UpdateSessionStatus moves a session to status if it is still in from.
// ErrConflict is returned when the session changed concurrently.
func (d *DB) UpdateSessionStatus(ctx context.Context, id string, from, to models.SessionStatus) (models.ScheduledSession, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE scheduled_sessions SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return models.ScheduledSession{}, fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ScheduledSession{}, fmt.Errorf("session %s is no longer %s: %w", id, from, ErrConflict)
	}
	return d.Session(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (models.ScheduledSession, error) {
	var (
		s                   models.ScheduledSession
		status, at, created string
	)
	if err := row.Scan(&s.ID, &s.LearnerID, &s.TeacherID, &at, &status, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("scan session: %w", err)
	}
	s.Status = models.SessionStatus(status)
	var err error
	if s.ScheduledTime, err = parseTime(at); err != nil {
		return s, fmt.Errorf("parse scheduled_time: %w", err)
	}
	if s.CreatedAt, err = parseTime(created); err != nil {
		return s, fmt.Errorf("parse created_at: %w", err)
	}
	return s, nil
}
