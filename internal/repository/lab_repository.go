package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/edunotice/internal/models"
	"github.com/noah-isme/edunotice/pkg/database"
)

// LabRepository persists labs.
type LabRepository struct {
	db *sqlx.DB
}

// NewLabRepository constructs the repository.
func NewLabRepository(db *sqlx.DB) *LabRepository {
	return &LabRepository{db: db}
}

// FindByCourseIDs returns every lab attached to the given courses.
func (r *LabRepository) FindByCourseIDs(ctx context.Context, courseIDs []int64) ([]models.Lab, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, course_id, name, time_created FROM lab WHERE course_id = ANY($1)`
	var labs []models.Lab
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &labs, query, pq.Array(courseIDs)); err != nil {
		return nil, fmt.Errorf("find labs by course: %w", err)
	}
	return labs, nil
}

// InsertMany creates the given labs, skipping (course_id, name) pairs that already exist.
func (r *LabRepository) InsertMany(ctx context.Context, labs []models.Lab) error {
	if len(labs) == 0 {
		return nil
	}
	courseIDs := make([]int64, len(labs))
	names := make([]string, len(labs))
	for i, lab := range labs {
		courseIDs[i] = lab.CourseID
		names[i] = lab.Name
	}
	const query = `INSERT INTO lab (course_id, name)
SELECT * FROM UNNEST($1::bigint[], $2::text[])
ON CONFLICT (course_id, name) DO NOTHING`
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, pq.Array(courseIDs), pq.Array(names)); err != nil {
		return fmt.Errorf("insert labs: %w", err)
	}
	return nil
}

// ListRefs returns every lab joined with its course name.
func (r *LabRepository) ListRefs(ctx context.Context) ([]models.LabRef, error) {
	const query = `SELECT l.id, l.name, c.name AS course_name FROM lab l JOIN course c ON c.id = l.course_id ORDER BY c.name, l.name`
	var refs []models.LabRef
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &refs, query); err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}
	return refs, nil
}
