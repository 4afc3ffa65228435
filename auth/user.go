package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the display-side view of the token claims. Decoded without
// signature verification, so it is a UX convenience only: authorization is
// always the server's call, made by validating the bearer token on each API
// request.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Brand     string    `json:"brand,omitempty"`
	Role      string    `json:"role,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// decodeUser extracts claims from the token payload. Any decode failure
// yields nil rather than an error: callers only need a presence check.
func decodeUser(token string) *User {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	u := &User{}
	if sub, err := claims.GetSubject(); err == nil {
		u.ID = sub
	}
	if u.ID == "" {
		if id, ok := claims["user_id"].(string); ok {
			u.ID = id
		}
	}
	if email, ok := claims["email"].(string); ok {
		u.Email = email
	}
	if brand, ok := claims["brand_id"].(string); ok {
		u.Brand = brand
	}
	if role, ok := claims["role"].(string); ok {
		u.Role = role
	}
	if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				u.Roles = append(u.Roles, s)
			}
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		u.ExpiresAt = exp.Time
	}
	if u.ID == "" {
		return nil
	}
	return u
}
