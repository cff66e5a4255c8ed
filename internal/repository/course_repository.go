package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/edunotice/internal/models"
	"github.com/noah-isme/edunotice/pkg/database"
)

// CourseRepository persists courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByNames returns the courses whose names are in names.
func (r *CourseRepository) FindByNames(ctx context.Context, names []string) ([]models.Course, error) {
	if len(names) == 0 {
		return nil, nil
	}
	const query = `SELECT id, name, time_created FROM course WHERE name = ANY($1)`
	var courses []models.Course
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &courses, query, pq.Array(names)); err != nil {
		return nil, fmt.Errorf("find courses by name: %w", err)
	}
	return courses, nil
}

// InsertNames creates a course for each name, ignoring names that already exist.
func (r *CourseRepository) InsertNames(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	const query = `INSERT INTO course (name) SELECT UNNEST($1::text[]) ON CONFLICT (name) DO NOTHING`
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, pq.Array(names)); err != nil {
		return fmt.Errorf("insert courses: %w", err)
	}
	return nil
}
