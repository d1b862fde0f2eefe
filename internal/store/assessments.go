package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/tutor-call/internal/models"
)

const assessmentColumns = `id, user_id, language, quiz_data, status, submitted_at, reviewed_at`

// CreateAssessment stores a pending assessment. ErrConflict is returned when the
// user already has a pending assessment for the language.
func (d *DB) CreateAssessment(ctx context.Context, userID, language string, quiz json.RawMessage) (models.Assessment, error) {
	a := models.Assessment{
		ID:          uuid.NewString(),
		UserID:      userID,
		Language:    language,
		QuizData:    quiz,
		Status:      models.AssessmentPending,
		SubmittedAt: time.Now().UTC(),
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO teacher_assessments (id, user_id, language, quiz_data, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Language, string(a.QuizData), string(a.Status), formatTime(a.SubmittedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Assessment{}, fmt.Errorf("pending assessment for %s: %w", language, ErrConflict)
		}
		return models.Assessment{}, fmt.Errorf("insert assessment: %w", err)
	}
	return a, nil
}

// ListAssessments returns assessments ordered by submission time, optionally filtered by status.
func (d *DB) ListAssessments(ctx context.Context, status models.AssessmentStatus) ([]models.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM teacher_assessments`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY submitted_at`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	out := []models.Assessment{}
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (d *DB) Assessment(ctx context.Context, id string) (models.Assessment, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM teacher_assessments WHERE id = ?`, id)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Assessment{}, ErrNotFound
	}
	return a, err
}

// ReviewAssessment approves or rejects a pending assessment. Approval promotes the
// submitting user to the teacher role in the same transaction.
func (d *DB) ReviewAssessment(ctx context.Context, id string, status models.AssessmentStatus) (models.Assessment, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Assessment{}, fmt.Errorf("begin review: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM teacher_assessments WHERE id = ?`, id)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Assessment{}, ErrNotFound
	}
	if err != nil {
		return models.Assessment{}, err
	}
	if a.Status != models.AssessmentPending {
		return models.Assessment{}, fmt.Errorf("assessment is already %s: %w", a.Status, ErrConflict)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE teacher_assessments SET status = ?, reviewed_at = ? WHERE id = ?`,
		string(status), formatTime(now), id); err != nil {
		return models.Assessment{}, fmt.Errorf("update assessment: %w", err)
	}
	if status == models.AssessmentApproved {
		if _, err := tx.ExecContext(ctx, `
			UPDATE profiles SET role = ? WHERE id = ?`, string(models.RoleTeacher), a.UserID); err != nil {
			return models.Assessment{}, fmt.Errorf("promote user %s: %w", a.UserID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Assessment{}, fmt.Errorf("commit review: %w", err)
	}

	a.Status = status
	a.ReviewedAt = &now
	return a, nil
}

func scanAssessment(row rowScanner) (models.Assessment, error) {
	var (
		a                         models.Assessment
		quiz, status, submittedAt string
		reviewedAt                sql.NullString
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Language, &quiz, &status, &submittedAt, &reviewedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan assessment: %w", err)
	}
	a.QuizData = json.RawMessage(quiz)
	a.Status = models.AssessmentStatus(status)
	var err error
	if a.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return a, fmt.Errorf("parse submitted_at: %w", err)
	}
	if reviewedAt.Valid {
		t, err := parseTime(reviewedAt.String)
		if err != nil {
			return a, fmt.Errorf("parse reviewed_at: %w", err)
		}
		a.ReviewedAt = &t
	}
	return a, nil
}
