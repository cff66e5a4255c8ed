package models

import "time"

// Course groups labs. Names are unique and never change.
type Course struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"time_created" json:"time_created"`
}

// Lab belongs to exactly one course; (course_id, name) is unique.
type Lab struct {
	ID        int64     `db:"id" json:"id"`
	CourseID  int64     `db:"course_id" json:"course_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"time_created" json:"time_created"`
}

// LabKey is the natural key of a lab as it appears in a crawl row.
type LabKey struct {
	Course string
	Lab    string
}

// LabRef joins a lab with its course name for rendering.
type LabRef struct {
	ID         int64  `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	CourseName string `db:"course_name" json:"course_name"`
}
