package models

import "time"

// ProtectionSettings are the portal's anti-abuse switches, managed by admins.
type ProtectionSettings struct {
	RateLimitDeclarations      bool      `json:"rateLimitDeclarations"`
	RateLimitDeclarationsValue string    `json:"rateLimitDeclarationsValue"`
	CaptchaDeclarations        bool      `json:"captchaDeclarations"`
	RateLimitAttachments       bool      `json:"rateLimitAttachments"`
	CaptchaClues               bool      `json:"captchaClues"`
	IPBlacklist                []string  `json:"ipBlacklist"`
	UpdatedAt                  time.Time `json:"updatedAt"`
}
