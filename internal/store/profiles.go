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

// CreateProfile inserts a new profile. The returned profile carries the generated ID.
// ErrConflict is returned when the email is already registered.
func (d *DB) CreateProfile(ctx context.Context, p models.Profile, passwordHash string) (models.Profile, error) {
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now().UTC()
	if p.Role == "" {
		p.Role = models.RoleLearner
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, password_hash, display_name, role, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, passwordHash, p.DisplayName, string(p.Role), p.IsAdmin, formatTime(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Profile{}, fmt.Errorf("email %s: %w", p.Email, ErrConflict)
		}
		return models.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

// ProfileByEmail returns the profile and its password hash.
func (d *DB) ProfileByEmail(ctx context.Context, email string) (models.Profile, string, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, role, is_admin, created_at, password_hash
		FROM profiles WHERE email = ?`, email)
	var hash string
	p, err := scanProfile(row, &hash)
	return p, hash, err
}

func (d *DB) Profile(ctx context.Context, id string) (models.Profile, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, role, is_admin, created_at, password_hash
		FROM profiles WHERE id = ?`, id)
	var hash string
	return scanProfile(row, &hash)
}

// ListTeachers returns every profile with the teacher role.
func (d *DB) ListTeachers(ctx context.Context) ([]models.TeacherSummary, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, display_name FROM profiles WHERE role = ? ORDER BY display_name`, string(models.RoleTeacher))
	if err != nil {
		return nil, fmt.Errorf("query teachers: %w", err)
	}
	defer rows.Close()

	teachers := []models.TeacherSummary{}
	for rows.Next() {
		var t models.TeacherSummary
		if err := rows.Scan(&t.ID, &t.DisplayName); err != nil {
			return nil, fmt.Errorf("scan teacher: %w", err)
		}
		teachers = append(teachers, t)
	}
	return teachers, rows.Err()
}

func scanProfile(row *sql.Row, hash *string) (models.Profile, error) {
	var (
		p         models.Profile
		role      string
		isAdmin   bool
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &role, &isAdmin, &createdAt, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Profile{}, ErrNotFound
		}
		return models.Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	p.Role = models.Role(role)
	p.IsAdmin = isAdmin
	t, err := parseTime(createdAt)
	if err != nil {
		return models.Profile{}, fmt.Errorf("parse created_at: %w", err)
	}
	p.CreatedAt = t
	return p, nil
}
