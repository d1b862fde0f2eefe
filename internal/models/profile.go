package models

import "time"

type Role string

const (
	RoleLearner Role = "learner"
	RoleTeacher Role = "teacher"
)

func (r Role) Valid() bool {
	return r == RoleLearner || r == RoleTeacher
}

// Profile is the account record of a registered user.
type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	IsAdmin     bool      `json:"isAdmin"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TeacherSummary is the public listing entry for a teacher.
type TeacherSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"displayName" binding:"required"`
	Role        Role   `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token   string  `json:"token"`
	Profile Profile `json:"profile"`
}
