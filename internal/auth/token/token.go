// Package token issues and verifies session credentials: HS256 access tokens
// and opaque refresh tokens that are stored only as a SHA-256 digest.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "hireloop/pkg/domain-errors"
)

// refreshTokenPrefix lets Logout tell a refresh token from a JWT without parsing.
const refreshTokenPrefix = "rt_"

// AccessTokenClaims represents the JWT claims for our access tokens
type AccessTokenClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Service handles JWT creation and validation
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
}

func NewService(signingKey, issuer, audience string, accessTTL time.Duration) (*Service, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("jwt signing key must be at least 32 bytes")
	}
	if accessTTL <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
	}, nil
}

// AccessTTL returns the lifetime of issued access tokens.
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// GenerateAccessToken signs an access token for the session and returns it
// with its expiry.
func (s *Service) GenerateAccessToken(subjectID, sessionID uuid.UUID, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.accessTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken verifies signature, issuer, audience and expiry.
func (s *Service) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	return s.parse(tokenString, jwt.WithExpirationRequired())
}

// ParseIgnoringExpiry verifies the signature, issuer and audience but accepts
// an expired token. Logout uses it: revoking an expired session is harmless.
func (s *Service) ParseIgnoringExpiry(tokenString string) (*AccessTokenClaims, error) {
	return s.parse(tokenString, jwt.WithoutClaimsValidation())
}

func (s *Service) parse(tokenString string, opts ...jwt.ParserOption) (*AccessTokenClaims, error) {
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "empty token")
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := new(AccessTokenClaims)
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeTokenExpired, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}
	// Checked by hand because WithoutClaimsValidation skips them too.
	if claims.Issuer != s.issuer {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token issuer")
	}
	aud, err := claims.GetAudience()
	if err != nil || !slices.Contains(aud, s.audience) {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token audience")
	}
	return claims, nil
}

// SessionUUID parses the session id claim.
func (c *AccessTokenClaims) SessionUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.SessionID)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid session claim")
	}
	return id, nil
}

// CreateRefreshToken returns a new opaque refresh token.
func CreateRefreshToken() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return refreshTokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// IsRefreshToken reports whether tok has the refresh token shape.
func IsRefreshToken(tok string) bool {
	return len(tok) > len(refreshTokenPrefix) && tok[:len(refreshTokenPrefix)] == refreshTokenPrefix
}

// HashRefreshToken is the digest stored in place of the raw token.
func HashRefreshToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}
