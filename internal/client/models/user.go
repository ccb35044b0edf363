package models

import (
	"strings"
	"time"
)

type AdminUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	// PasswordHash is an encoded argon2id hash; empty for profiles known only
	// from the server.
	PasswordHash     string    `json:"passwordHash,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
}

// Public strips credentials before a user is handed out of the auth service.
func (u AdminUser) Public() AdminUser {
	u.PasswordHash = ""
	return u
}

// PendingVerification is an in-flight 2FA challenge. Only a digest of the
// code is kept. Remote challenges are verified by the server and carry no
// digest.
type PendingVerification struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	CodeHash  string    `json:"codeHash,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	Remote    bool      `json:"remote"`
}

func (p PendingVerification) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Session is the persisted identity of the authenticated user.
type Session struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Since    time.Time `json:"since"`
}

type Registration struct {
	Username  string `json:"username" validate:"required,username"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,strongpassword"`
	Enable2FA bool   `json:"enable2fa"`
}

func (r *Registration) Normalize() {
	r.Username = strings.ToLower(trim(r.Username))
	r.Email = strings.ToLower(trim(r.Email))
}

type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (c *Credentials) Normalize() {
	c.Username = strings.ToLower(trim(c.Username))
}

type twoFactorCode struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// ValidateCode checks the shape of a 2FA code.
func ValidateCode(code string) error {
	return Validate(twoFactorCode{Code: trim(code)})
}
