package auth

// Role is the portal role carried in the token.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid returns true when the role is a supported value.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleTeacher || r == RoleStudent
}

// Actor is the authenticated caller. For teachers and students ID is their teacher or student id.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool   { return a.Role == RoleAdmin }
func (a Actor) IsTeacher() bool { return a.Role == RoleTeacher }
func (a Actor) IsStudent() bool { return a.Role == RoleStudent }

// CanActFor reports whether the actor may manage resources owned by teacherID.
func (a Actor) CanActFor(teacherID string) bool {
	return a.IsAdmin() || (a.IsTeacher() && a.ID == teacherID)
}
