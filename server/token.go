package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier checks an inbound bearer token and returns its subject.
type TokenVerifier interface {
	Verify(token string) (subject string, err error)
}

// JWTVerifier verifies HS256 signed tokens. When Audience is set the "aud"
// claim must contain it.
type JWTVerifier struct {
	secret   []byte
	audience string
}

// NewJWTVerifier creates a verifier for secret.
func NewJWTVerifier(secret []byte, audience string) *JWTVerifier {
	return &JWTVerifier{secret: secret, audience: audience}
}

// Verify implements TokenVerifier.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Generate signs a token for subject, used by the console and tests.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func extractBearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", "invalid authorization header format"
	}
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireBearer rejects requests without a token accepted by verifier.
func RequireBearer(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, msg := extractBearerToken(r.Header.Get("Authorization"))
			if msg != "" {
				writeError(w, http.StatusUnauthorized, msg)
				return
			}
			sub, err := verifier.Verify(token)
			if err != nil {
				if errors.Is(err, ErrExpiredToken) {
					writeError(w, http.StatusUnauthorized, "token expired")
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), sub)))
		})
	}
}
