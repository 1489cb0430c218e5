package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSecret is returned when no JWT secret is configured
var ErrNoSecret = errors.New("JWT secret is not configured")

// UserMetadata is the user_metadata claim of a backend access token
type UserMetadata struct {
	CustomUserRole string `json:"custom_user_role,omitempty"`
}

// Claims represents the claims of a backend access token
type Claims struct {
	Email        string       `json:"email"`
	Role         string       `json:"role"` // authenticated, service_role, ...
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// Session is the authenticated operator. It is passed explicitly to every
// component that acts on the operator's behalf.
type Session struct {
	UserID      string
	Email       string
	Role        string // Panel role from user_metadata.custom_user_role
	AccessToken string
	ExpiresAt   time.Time
}

// IssueToken signs an access token. The backend issues real tokens; this is
// used by tests and local tooling.
func IssueToken(secret, userID, email, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := &Claims{
		Email:        email,
		Role:         "authenticated",
		UserMetadata: UserMetadata{CustomUserRole: role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken validates an access token and returns the session it carries
func ValidateToken(secret, tokenString string) (*Session, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return &Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Role:        claims.UserMetadata.CustomUserRole,
		AccessToken: tokenString,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
