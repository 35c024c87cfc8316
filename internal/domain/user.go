// Package domain contains core domain types for the farm advisory service.
package domain

import (
	"strings"
)

// UserProfile is the farmer profile resolved once per session.
type UserProfile struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	City     string   `json:"city"`
	State    string   `json:"state"`
	Language Language `json:"language"`
	// Degraded is set when the profile could not be fetched and defaults were used.
	Degraded bool `json:"degraded"`
}

// DefaultProfile returns the profile used when the profile service is unavailable.
func DefaultProfile(userID string) UserProfile {
	return UserProfile{
		UserID:   userID,
		Phone:    userID,
		Language: DefaultLanguage,
		Degraded: true,
	}
}

// Location renders "city, state" leaving out empty parts.
func (p UserProfile) Location() string {
	parts := make([]string, 0, 2)
	if c := strings.TrimSpace(p.City); c != "" {
		parts = append(parts, c)
	}
	if s := strings.TrimSpace(p.State); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
