// Package storetest opens a migrated Postgres database for integration tests.
package storetest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schoolattend/internal/store"
)

// Open connects to TEST_DATABASE_URL, applies migrations and empties every table.
// The test is skipped when the variable is unset.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, url, 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, store.Migrate(ctx, db.Client, zap.NewNop()))
	_, err = db.Client.ExecContext(ctx, `
		TRUNCATE attendances, student_class_enrollments, attendance_sessions, teacher_course_sections,
			class_sections, semesters, teachers, attendance_settings CASCADE
	`)
	require.NoError(t, err)
	return db.Client
}

// Section is the reference data a scheduling test needs.
type Section struct {
	InstitutionID  string
	TeacherID      string
	CourseID       string
	SemesterID     string
	ClassSectionID string
}

// SeedSection inserts a teacher, a semester and one class section of the given course.
func SeedSection(t *testing.T, db *sql.DB, semStart, semEnd string) Section {
	t.Helper()
	s := Section{
		InstitutionID:  uuid.NewString(),
		TeacherID:      uuid.NewString(),
		CourseID:       uuid.NewString(),
		SemesterID:     uuid.NewString(),
		ClassSectionID: uuid.NewString(),
	}
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `INSERT INTO teachers (id, name) VALUES ($1, 'Teacher')`, s.TeacherID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO semesters (id, name, start_date, end_date) VALUES ($1, 'Term', $2, $3)`, s.SemesterID, semStart, semEnd)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO class_sections (id, institution_id, teacher_id, course_id, semester_id, max_capacity)
		VALUES ($1, $2, $3, $4, $5, 30)
	`, s.ClassSectionID, s.InstitutionID, s.TeacherID, s.CourseID, s.SemesterID)
	require.NoError(t, err)
	return s
}

// Enroll adds students to a class section with the given enrollment status.
func Enroll(t *testing.T, db *sql.DB, classSectionID, status string, studentIDs ...string) {
	t.Helper()
	for _, id := range studentIDs {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO student_class_enrollments (id, student_id, class_section_id, status)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), id, classSectionID, status)
		require.NoError(t, err)
	}
}
