package model

import "time"

// SessionStatus is the lifecycle state of an attendance session.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "SCHEDULED"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionCancelled  SessionStatus = "CANCELLED"
)

// Valid returns true when the status is a supported value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionInProgress, SessionCompleted, SessionCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// SessionType is the kind of meeting.
type SessionType string

const (
	SessionLecture  SessionType = "LECTURE"
	SessionLab      SessionType = "LAB"
	SessionTutorial SessionType = "TUTORIAL"
	SessionClass    SessionType = "CLASS"
)

// Valid returns true when the type is a supported value.
func (t SessionType) Valid() bool {
	switch t {
	case SessionLecture, SessionLab, SessionTutorial, SessionClass:
		return true
	default:
		return false
	}
}

// AttendanceStatus is the recorded presence of one student.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceLate    AttendanceStatus = "LATE"
	AttendanceExcused AttendanceStatus = "EXCUSED"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused:
		return true
	default:
		return false
	}
}

// EnrollmentStatus is the state of a student's membership in a class section.
type EnrollmentStatus string

const (
	EnrollmentEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentDropped   EnrollmentStatus = "DROPPED"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
)

// Semester bounds the calendar a class section runs in. Dates are inclusive.
type Semester struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// ClassSection is one teacher's offering of one course to one cohort for one semester.
type ClassSection struct {
	ID            string    `json:"id"`
	InstitutionID string    `json:"institutionId"`
	TeacherID     string    `json:"teacherId"`
	CourseID      string    `json:"courseId"`
	SemesterID    string    `json:"semesterId"`
	MaxCapacity   int       `json:"maxCapacity"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TeacherCourseSection records the weekly rule a section's sessions were generated from.
type TeacherCourseSection struct {
	ID             string    `json:"id"`
	TeacherID      string    `json:"teacherId"`
	CourseID       string    `json:"courseId"`
	ClassSectionID string    `json:"classSectionId"`
	SemesterID     string    `json:"semesterId"`
	Days           []int     `json:"days"`
	StartTime      string    `json:"startTime"`
	EndTime        string    `json:"endTime"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Session is one concrete meeting of a class section.
// StartTime and EndTime carry the session date as well as the wall-clock time.
type Session struct {
	ID             string        `json:"id"`
	ClassSectionID string        `json:"classSectionId"`
	CourseID       string        `json:"courseId"`
	TeacherID      string        `json:"teacherId"`
	InstitutionID  string        `json:"institutionId,omitempty"`
	SessionDate    time.Time     `json:"sessionDate"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	SessionType    SessionType   `json:"sessionType"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Enrollment maps a student to a class section.
type Enrollment struct {
	ID             string           `json:"id"`
	StudentID      string           `json:"studentId"`
	ClassSectionID string           `json:"classSectionId"`
	Status         EnrollmentStatus `json:"status"`
}

// Attendance is the recorded status of one student for one session.
type Attendance struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"attendanceSessionId"`
	StudentID  string           `json:"studentId"`
	Status     AttendanceStatus `json:"status"`
	Remarks    *string          `json:"remarks,omitempty"`
	RecordedBy string           `json:"recordedBy"`
	RecordedAt time.Time        `json:"recordedAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Settings is the institution-level attendance policy.
type Settings struct {
	InstitutionID           string `json:"institutionId"`
	MinAttendancePercentage int    `json:"minAttendancePercentage"`
	AutoLockAttendance      bool   `json:"autoLockAttendance"`
	AutoLockAfterHours      int    `json:"autoLockAfterHours"`
	AllowExcusedAbsences    bool   `json:"allowExcusedAbsences"`
}

// DefaultSettings is used when an institution has no settings row.
func DefaultSettings(institutionID string) Settings {
	return Settings{
		InstitutionID:           institutionID,
		MinAttendancePercentage: 75,
		AutoLockAttendance:      false,
		AutoLockAfterHours:      24,
		AllowExcusedAbsences:    true,
	}
}

// LockedAt reports whether attendance for a session on sessionDate is locked at now.
func (s Settings) LockedAt(sessionDate, now time.Time) bool {
	if !s.AutoLockAttendance {
		return false
	}
	return now.After(sessionDate.Add(time.Duration(s.AutoLockAfterHours) * time.Hour))
}
