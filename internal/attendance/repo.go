package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"schoolattend/internal/apperr"
	"schoolattend/internal/model"
	"schoolattend/internal/store"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Institution returns the institution of the session's class section.
func (r *Repository) Institution(ctx context.Context, sessionID string) (string, error) {
	if uuid.Validate(sessionID) != nil {
		return "", apperr.NotFound("session", sessionID)
	}
	var inst string
	err := r.db.QueryRowContext(ctx, `
		SELECT cs.institution_id
		FROM attendance_sessions s
		JOIN class_sections cs ON cs.id = s.class_section_id
		WHERE s.id = $1
	`, sessionID).Scan(&inst)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("session", sessionID)
	}
	if err != nil {
		return "", fmt.Errorf("session institution: %w", err)
	}
	return inst, nil
}

// WithSession locks the session row FOR UPDATE and runs fn in the same transaction.
func (r *Repository) WithSession(ctx context.Context, sessionID string, fn func(tx Tx, sess LockedSession) error) error {
	if uuid.Validate(sessionID) != nil {
		return apperr.NotFound("session", sessionID)
	}
	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var sess LockedSession
		err := tx.QueryRowContext(ctx, `
			SELECT s.id, s.class_section_id, s.teacher_id, cs.institution_id, s.session_date, s.status
			FROM attendance_sessions s
			JOIN class_sections cs ON cs.id = s.class_section_id
			WHERE s.id = $1
			FOR UPDATE OF s
		`, sessionID).Scan(&sess.ID, &sess.ClassSectionID, &sess.TeacherID, &sess.InstitutionID, &sess.SessionDate, &sess.Status)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("session", sessionID)
		}
		if err != nil {
			return err
		}
		return fn(sqlTx{tx: tx}, sess)
	})
}

type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) ActiveEnrollments(ctx context.Context, classSectionID string) (map[string]bool, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT student_id FROM student_class_enrollments
		WHERE class_section_id = $1 AND status = 'ENROLLED'
	`, classSectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	active := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		active[id] = true
	}
	return active, rows.Err()
}

func (t sqlTx) Upsert(ctx context.Context, a model.Attendance) (model.Attendance, bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var inserted bool
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO attendances (id, session_id, student_id, status, remarks, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT attendances_session_student_key DO UPDATE SET
			status = EXCLUDED.status,
			remarks = EXCLUDED.remarks,
			recorded_by = EXCLUDED.recorded_by,
			recorded_at = NOW(),
			updated_at = NOW()
		RETURNING id, recorded_at, updated_at, (xmax = 0) AS inserted
	`, a.ID, a.SessionID, a.StudentID, string(a.Status), a.Remarks, a.RecordedBy).Scan(&a.ID, &a.RecordedAt, &a.UpdatedAt, &inserted)
	if err != nil {
		return model.Attendance{}, false, err
	}
	return a, inserted, nil
}

func (t sqlTx) CountRecorded(ctx context.Context, sessionID, classSectionID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM attendances a
		JOIN student_class_enrollments e
			ON e.student_id = a.student_id AND e.class_section_id = $2 AND e.status = 'ENROLLED'
		WHERE a.session_id = $1
	`, sessionID, classSectionID).Scan(&n)
	return n, err
}

func (t sqlTx) SetSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE attendance_sessions SET status = $2, updated_at = NOW() WHERE id = $1
	`, sessionID, string(status))
	return err
}

// List returns attendance rows with basic filters, newest session first.
func (r *Repository) List(ctx context.Context, f Filter) ([]model.Attendance, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT a.id, a.session_id, a.student_id, a.status, a.remarks, a.recorded_by, a.recorded_at, a.updated_at
		FROM attendances a
		JOIN attendance_sessions s ON s.id = a.session_id`
	args := []any{}
	clauses := []string{}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, clause+" $"+strconv.Itoa(len(args)))
	}
	for _, id := range []string{f.SessionID, f.StudentID, f.ClassSectionID, f.TeacherID} {
		if id != "" && uuid.Validate(id) != nil {
			return []model.Attendance{}, nil
		}
	}
	if f.SessionID != "" {
		add("a.session_id =", f.SessionID)
	}
	if f.StudentID != "" {
		add("a.student_id =", f.StudentID)
	}
	if f.ClassSectionID != "" {
		add("s.class_section_id =", f.ClassSectionID)
	}
	if f.TeacherID != "" {
		add("s.teacher_id =", f.TeacherID)
	}
	if f.From != nil {
		add("s.session_date >=", *f.From)
	}
	if f.To != nil {
		add("s.session_date <=", *f.To)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY s.start_time DESC, a.student_id LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []model.Attendance{}
	for rows.Next() {
		var a model.Attendance
		if err := rows.Scan(&a.ID, &a.SessionID, &a.StudentID, &a.Status, &a.Remarks, &a.RecordedBy, &a.RecordedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// Tally counts the non-cancelled sessions in scope held on or before AsOf and the student's
// marks on them. Only sections the student is enrolled in count.
func (r *Repository) Tally(ctx context.Context, sc Scope) (Tally, error) {
	if uuid.Validate(sc.StudentID) != nil {
		return Tally{}, nil
	}
	if sc.CourseID != "" && uuid.Validate(sc.CourseID) != nil {
		return Tally{}, nil
	}
	if sc.ClassSectionID != "" && uuid.Validate(sc.ClassSectionID) != nil {
		return Tally{}, nil
	}
	var t Tally
	var institution sql.NullString
	err := r.db.QueryRowContext(ctx, `
		WITH scope AS (
			SELECT s.id, cs.institution_id
			FROM attendance_sessions s
			JOIN class_sections cs ON cs.id = s.class_section_id
			JOIN student_class_enrollments e ON e.class_section_id = s.class_section_id AND e.student_id = $1
			WHERE s.status <> 'CANCELLED'
				AND s.session_date <= $2
				AND ($3 = '' OR s.course_id::text = $3)
				AND ($4 = '' OR s.class_section_id::text = $4)
		)
		SELECT
			(SELECT COUNT(*) FROM scope),
			COUNT(*) FILTER (WHERE a.status = 'PRESENT'),
			COUNT(*) FILTER (WHERE a.status = 'ABSENT'),
			COUNT(*) FILTER (WHERE a.status = 'LATE'),
			COUNT(*) FILTER (WHERE a.status = 'EXCUSED'),
			(SELECT MIN(institution_id::text) FROM scope)
		FROM attendances a
		WHERE a.student_id = $1 AND a.session_id IN (SELECT id FROM scope)
	`, sc.StudentID, sc.AsOf, sc.CourseID, sc.ClassSectionID).Scan(&t.Total, &t.Present, &t.Absent, &t.Late, &t.Excused, &institution)
	if err != nil {
		return Tally{}, err
	}
	if institution.Valid {
		t.InstitutionID = institution.String
	} else if sc.ClassSectionID != "" {
		err := r.db.QueryRowContext(ctx, `SELECT institution_id FROM class_sections WHERE id = $1`, sc.ClassSectionID).Scan(&t.InstitutionID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return Tally{}, err
		}
	}
	return t, nil
}
