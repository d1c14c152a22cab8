package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"schoolattend/internal/apperr"
	"schoolattend/internal/model"
	"schoolattend/internal/schedule"
	"schoolattend/internal/store"
)

// Repository persists sessions and the scheduling reference data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `
	s.id, s.class_section_id, s.course_id, s.teacher_id, cs.institution_id,
	s.session_date, s.start_time, s.end_time, s.session_type, s.status, s.created_at, s.updated_at`

const sessionFrom = `
	FROM attendance_sessions s
	JOIN class_sections cs ON cs.id = s.class_section_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.ClassSectionID, &s.CourseID, &s.TeacherID, &s.InstitutionID,
		&s.SessionDate, &s.StartTime, &s.EndTime, &s.SessionType, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// ClassSection returns a class section or NotFound.
func (r *Repository) ClassSection(ctx context.Context, id string) (model.ClassSection, error) {
	if uuid.Validate(id) != nil {
		return model.ClassSection{}, apperr.NotFound("class section", id)
	}
	var cs model.ClassSection
	err := r.db.QueryRowContext(ctx, `
		SELECT id, institution_id, teacher_id, course_id, semester_id, max_capacity, created_at
		FROM class_sections WHERE id = $1
	`, id).Scan(&cs.ID, &cs.InstitutionID, &cs.TeacherID, &cs.CourseID, &cs.SemesterID, &cs.MaxCapacity, &cs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClassSection{}, apperr.NotFound("class section", id)
	}
	return cs, err
}

// Semester returns a semester or NotFound.
func (r *Repository) Semester(ctx context.Context, id string) (model.Semester, error) {
	if uuid.Validate(id) != nil {
		return model.Semester{}, apperr.NotFound("semester", id)
	}
	var sem model.Semester
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, start_date, end_date FROM semesters WHERE id = $1
	`, id).Scan(&sem.ID, &sem.Name, &sem.StartDate, &sem.EndDate)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Semester{}, apperr.NotFound("semester", id)
	}
	return sem, err
}

// TeacherExists reports whether the teacher is known.
func (r *Repository) TeacherExists(ctx context.Context, id string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM teachers WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// IsEnrolled reports whether the student has any enrollment row in the class section.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, classSectionID string) (bool, error) {
	if uuid.Validate(studentID) != nil || uuid.Validate(classSectionID) != nil {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM student_class_enrollments
			WHERE student_id = $1 AND class_section_id = $2
		)
	`, studentID, classSectionID).Scan(&exists)
	return exists, err
}

// Get returns a single session by id.
func (r *Repository) Get(ctx context.Context, id string) (model.Session, error) {
	if uuid.Validate(id) != nil {
		return model.Session{}, apperr.NotFound("session", id)
	}
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE s.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, apperr.NotFound("session", id)
	}
	return s, err
}

// List returns sessions matching the filter ordered by start time.
func (r *Repository) List(ctx context.Context, f Filter) ([]model.Session, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + sessionColumns + sessionFrom
	args := []any{}
	clauses := []string{}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, clause+" $"+strconv.Itoa(len(args)))
	}
	if f.TeacherID != "" {
		add("s.teacher_id =", f.TeacherID)
	}
	if f.ClassSectionID != "" {
		add("s.class_section_id =", f.ClassSectionID)
	}
	if f.Status != "" {
		add("s.status =", string(f.Status))
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
	query += " ORDER BY s.start_time LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []model.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CreateSessions inserts sessions in one transaction. Each candidate is conflict-checked
// against the teacher's existing sessions while holding the teacher's advisory lock, so
// concurrent creations for one teacher are serialised. With skipConflicts a clashing
// candidate is reported and skipped; otherwise the first clash aborts the whole call.
func (r *Repository) CreateSessions(ctx context.Context, sessions []model.Session, skipConflicts bool) (CreateResult, error) {
	var res CreateResult
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		res, err = createChecked(ctx, tx, sessions, skipConflicts)
		return err
	})
	if err != nil {
		return CreateResult{}, err
	}
	return res, nil
}

// CreateSchedule stores the teacher/course/section relation and its generated sessions
// atomically. Conflicting dates are skipped.
func (r *Repository) CreateSchedule(ctx context.Context, rel model.TeacherCourseSection, sessions []model.Session) (model.TeacherCourseSection, CreateResult, error) {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	days := make([]int32, len(rel.Days))
	for i, d := range rel.Days {
		days[i] = int32(d)
	}
	var res CreateResult
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO teacher_course_sections (id, teacher_id, course_id, class_section_id, semester_id, days, start_time, end_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at
		`, rel.ID, rel.TeacherID, rel.CourseID, rel.ClassSectionID, rel.SemesterID, days, rel.StartTime, rel.EndTime).Scan(&rel.CreatedAt)
		if err != nil {
			if store.IsUniqueViolation(err, "teacher_course_sections_teacher_section_key") {
				return apperr.Validation("sessions were already generated for this teacher and class section", nil)
			}
			return mapWriteErr(err)
		}
		res, err = createChecked(ctx, tx, sessions, true)
		return err
	})
	if err != nil {
		return model.TeacherCourseSection{}, CreateResult{}, err
	}
	return rel, res, nil
}

func createChecked(ctx context.Context, tx *sql.Tx, sessions []model.Session, skipConflicts bool) (CreateResult, error) {
	res := CreateResult{Created: []model.Session{}, Skipped: []SkippedDate{}}
	checker := schedule.NewChecker(bookings{q: tx})
	locked := map[string]bool{}
	for _, s := range sessions {
		if !locked[s.TeacherID] {
			if err := lockTeacher(ctx, tx, s.TeacherID); err != nil {
				return CreateResult{}, err
			}
			locked[s.TeacherID] = true
		}
		err := checker.Check(ctx, s.TeacherID, schedule.Interval{Start: s.StartTime, End: s.EndTime}, "")
		if err != nil {
			if skipConflicts && apperr.Is(err, apperr.KindSchedulingConflict) {
				res.Skipped = append(res.Skipped, SkippedDate{Date: s.SessionDate, ConflictSessionID: apperr.As(err).ConflictSessionID})
				continue
			}
			return CreateResult{}, err
		}
		if err := insertSession(ctx, tx, &s); err != nil {
			return CreateResult{}, err
		}
		res.Created = append(res.Created, s)
	}
	return res, nil
}

// Update locks the session row, lets fn mutate it, re-checks teacher conflicts when the
// slot moved and persists the result.
func (r *Repository) Update(ctx context.Context, id string, fn func(*model.Session) error) (model.Session, error) {
	if uuid.Validate(id) != nil {
		return model.Session{}, apperr.NotFound("session", id)
	}
	var out model.Session
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE s.id = $1 FOR UPDATE OF s`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("session", id)
		}
		if err != nil {
			return err
		}
		before := s
		if err := fn(&s); err != nil {
			return err
		}
		moved := !s.StartTime.Equal(before.StartTime) || !s.EndTime.Equal(before.EndTime) || !s.SessionDate.Equal(before.SessionDate)
		if moved && s.Status != model.SessionCancelled {
			if err := lockTeacher(ctx, tx, s.TeacherID); err != nil {
				return err
			}
			if err := schedule.NewChecker(bookings{q: tx}).Check(ctx, s.TeacherID, schedule.Interval{Start: s.StartTime, End: s.EndTime}, s.ID); err != nil {
				return err
			}
		}
		err = tx.QueryRowContext(ctx, `
			UPDATE attendance_sessions
			SET session_date = $2, start_time = $3, end_time = $4, session_type = $5, status = $6, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`, s.ID, s.SessionDate, s.StartTime, s.EndTime, string(s.SessionType), string(s.Status)).Scan(&s.UpdatedAt)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func insertSession(ctx context.Context, q store.Querier, s *model.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = model.SessionScheduled
	}
	if s.SessionType == "" {
		s.SessionType = model.SessionClass
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (id, class_section_id, course_id, teacher_id, session_date, start_time, end_time, session_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, s.ID, s.ClassSectionID, s.CourseID, s.TeacherID, s.SessionDate, s.StartTime, s.EndTime, string(s.SessionType), string(s.Status)).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

// lockTeacher serialises session writes for one teacher until the transaction ends.
func lockTeacher(ctx context.Context, tx *sql.Tx, teacherID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, teacherID)
	return err
}

func mapWriteErr(err error) error {
	if store.IsForeignKeyViolation(err) {
		return &apperr.Error{Kind: apperr.KindNotFound, Code: string(apperr.KindNotFound), Message: "referenced class section, teacher or semester not found", Err: err}
	}
	return fmt.Errorf("write session: %w", err)
}

// bookings reads a teacher's non-cancelled sessions through q.
type bookings struct {
	q store.Querier
}

func (b bookings) TeacherBookings(ctx context.Context, teacherID string, date time.Time) ([]schedule.Booking, error) {
	rows, err := b.q.QueryContext(ctx, `
		SELECT id, start_time, end_time
		FROM attendance_sessions
		WHERE teacher_id = $1 AND session_date = $2 AND status <> 'CANCELLED'
		ORDER BY start_time
	`, teacherID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.Booking
	for rows.Next() {
		var bk schedule.Booking
		if err := rows.Scan(&bk.SessionID, &bk.Interval.Start, &bk.Interval.End); err != nil {
			return nil, err
		}
		out = append(out, bk)
	}
	return out, rows.Err()
}
