package unichat

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the authenticated identity for one client. It is created at
// login, destroyed at logout, and passed explicitly to everything that needs
// a credential; there is no global session side-channel.
type Session struct {
	UserID      string
	DisplayName string
	AuthToken   string
}

// NewSession builds a session from a bearer token and its owner.
func NewSession(userID, displayName, token string) *Session {
	return &Session{UserID: userID, DisplayName: displayName, AuthToken: token}
}

// ExpiresAt returns the token's exp claim, or zero when the token is not a
// JWT or carries no expiry. Claims are read without signature verification:
// the server remains the authority, this only lets the client fail fast.
func (s *Session) ExpiresAt() time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(s.AuthToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Valid reports whether the session has a token that is not known-expired.
// An opaque (non-JWT) token is assumed valid until the server says otherwise.
func (s *Session) Valid() bool {
	if s == nil || s.AuthToken == "" {
		return false
	}
	exp := s.ExpiresAt()
	return exp.IsZero() || time.Now().Before(exp)
}
