package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"coursepay/internal/domain"
)

type CourseRepo interface {
	FindById(ctx context.Context, id string) (*domain.Course, error)
	// GrantCourse adds courseID to the user's owned set. Granting twice is a no-op.
	GrantCourse(ctx context.Context, tx *sql.Tx, userID, courseID string) error
	HasCourse(ctx context.Context, userID, courseID string) (bool, error)
	// SaveCourse inserts or updates a catalogue entry.
	SaveCourse(ctx context.Context, course domain.Course) error
}

type courseRepo struct {
	db *sql.DB
}

func NewCourseRepo(db *sql.DB) CourseRepo {
	return &courseRepo{db: db}
}

func (r *courseRepo) FindById(ctx context.Context, id string) (*domain.Course, error) {
	var course domain.Course
	err := r.db.QueryRowContext(ctx, "SELECT id, title, price FROM courses WHERE id = $1", id).Scan(
		&course.ID,
		&course.Title,
		&course.Price,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load course %s: %w", id, err)
	}
	return &course, nil
}

func (r *courseRepo) GrantCourse(ctx context.Context, tx *sql.Tx, userID, courseID string) error {
	_, err := execer(r.db, tx).ExecContext(ctx,
		`INSERT INTO user_courses (user_id, course_id) VALUES ($1, $2)
		ON CONFLICT (user_id, course_id) DO NOTHING`,
		userID, courseID,
	)
	if err != nil {
		return fmt.Errorf("failed to grant course %s to user %s: %w", courseID, userID, err)
	}
	return nil
}

func (r *courseRepo) HasCourse(ctx context.Context, userID, courseID string) (bool, error) {
	var owned bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM user_courses WHERE user_id = $1 AND course_id = $2)",
		userID, courseID,
	).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("failed to check course ownership: %w", err)
	}
	return owned, nil
}

func (r *courseRepo) SaveCourse(ctx context.Context, course domain.Course) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO courses (id, title, price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, price = EXCLUDED.price`,
		course.ID, course.Title, course.Price,
	)
	if err != nil {
		return fmt.Errorf("failed to save course %s: %w", course.ID, err)
	}
	return nil
}
