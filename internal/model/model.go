package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
	// UserRoleParent is a parent or guardian who reads linked students' grades.
	UserRoleParent UserRole = "parent"
)

// IsStaff reports whether the role may author exams and grade answers.
func (r UserRole) IsStaff() bool {
	return r == UserRoleTeacher || r == UserRoleAdmin
}

// User represents a system user. Credentials live in the external identity service.
type User struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Role        UserRole  `db:"role" json:"role"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Identity is the authenticated caller every engine operation acts on behalf of.
type Identity struct {
	UserID   string
	Role     UserRole
	TenantID string
}

// Identity returns the identity of the user.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Role: u.Role, TenantID: u.TenantID}
}

// AuthSession represents an issued API token.
type AuthSession struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Subject is a course subject within a tenant.
type Subject struct {
	ID       string `db:"id" json:"id"`
	TenantID string `db:"tenant_id" json:"tenant_id"`
	Code     string `db:"code" json:"code"`
	Name     string `db:"name" json:"name"`
}

// Term is an academic term.
type Term struct {
	ID       string    `db:"id" json:"id"`
	TenantID string    `db:"tenant_id" json:"tenant_id"`
	Name     string    `db:"name" json:"name"`
	StartsOn time.Time `db:"starts_on" json:"starts_on"`
	EndsOn   time.Time `db:"ends_on" json:"ends_on"`
}

// Section is a class group for a subject. TermID may be unset for ad-hoc groups.
type Section struct {
	ID        string  `db:"id" json:"id"`
	TenantID  string  `db:"tenant_id" json:"tenant_id"`
	SubjectID string  `db:"subject_id" json:"subject_id"`
	TermID    *string `db:"term_id" json:"term_id,omitempty"`
	TeacherID *string `db:"teacher_id" json:"teacher_id,omitempty"`
	Name      string  `db:"name" json:"name"`
}

// Enrollment binds a student to a section.
type Enrollment struct {
	SectionID string `db:"section_id" json:"section_id"`
	StudentID string `db:"student_id" json:"student_id"`
}

// ParentChild links a parent to a student. Only verified links grant access.
type ParentChild struct {
	ParentID  string    `db:"parent_id" json:"parent_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Verified  bool      `db:"verified" json:"verified"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GradeCategory is a weighted gradebook bucket of a subject.
type GradeCategory struct {
	ID        string  `db:"id" json:"id"`
	SubjectID string  `db:"subject_id" json:"subject_id"`
	Name      string  `db:"name" json:"name"`
	Weight    float64 `db:"weight" json:"weight"`
	SortOrder int     `db:"sort_order" json:"order"`
}
