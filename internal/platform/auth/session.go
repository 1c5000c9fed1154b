package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookie carries the signed launch session.
	SessionCookie = "ips_session"

	sessionIssuer = "ips-exporter"
)

var ErrInvalidSession = errors.New("invalid session")

// SessionClaims are the JWT claims of a launch session. The names follow the
// SMART launch token response.
type SessionClaims struct {
	jwt.RegisteredClaims
	Patient     string `json:"patient"`
	FHIRUser    string `json:"fhirUser"`
	FHIRServer  string `json:"fhir_server,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// SessionCodec issues and verifies HS256 launch-session tokens.
type SessionCodec struct {
	key      []byte
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionCodec(secret []byte, audience string, ttl time.Duration) (*SessionCodec, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionCodec{key: secret, audience: audience, ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of issued sessions.
func (s *SessionCodec) TTL() time.Duration { return s.ttl }

// Issue signs a session for lc.
func (s *SessionCodec) Issue(lc LaunchContext) (string, error) {
	if !lc.Complete() {
		return "", fmt.Errorf("%w: patient and practitioner are required", ErrInvalidSession)
	}
	now := s.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   lc.FHIRUser(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Patient:     lc.PatientID,
		FHIRUser:    lc.FHIRUser(),
		FHIRServer:  lc.FHIRBaseURL,
		AccessToken: lc.AccessToken,
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Parse verifies token and returns its launch context.
func (s *SessionCodec) Parse(token string) (LaunchContext, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(s.now),
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &SessionClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return LaunchContext{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	lc := LaunchContext{
		PatientID:      claims.Patient,
		PractitionerID: practitionerFromFHIRUser(claims.FHIRUser),
		FHIRBaseURL:    claims.FHIRServer,
		AccessToken:    claims.AccessToken,
	}
	if !lc.Complete() {
		return LaunchContext{}, fmt.Errorf("%w: missing patient or practitioner", ErrInvalidSession)
	}
	return lc, nil
}
