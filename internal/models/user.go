package models

import "time"

type UserStatus string

const (
	StatusOnline   UserStatus = "online"
	StatusAway     UserStatus = "away"
	StatusInactive UserStatus = "inactive"
)

type User struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email,omitempty"`
	PasswordHash   string     `json:"-"`
	Color          string     `json:"color,omitempty"`
	Status         UserStatus `json:"status,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
