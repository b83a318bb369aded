// Package main provides authentication for the StepDB snapshot server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nickyhof/StepDB/core"
)

// AuthConfig configures server authentication.
type AuthConfig struct {
	// Enabled requires a bearer token on every request. If false, the
	// server's default identity signs all commits.
	Enabled bool

	// JWTSecret is the shared secret for HS256 JWT validation.
	JWTSecret string

	// Issuer is the expected "iss" claim in JWTs.
	Issuer string

	// Audience is the expected "aud" claim in JWTs (optional).
	Audience string

	// NameClaim is the JWT claim for user's name (default: "name").
	NameClaim string

	// EmailClaim is the JWT claim for user's email (default: "email").
	EmailClaim string
}

type contextKey string

const identityContextKey contextKey = "identity"

// validateJWT validates a bearer token and extracts identity claims.
func (s *Server) validateJWT(tokenString string) (core.Identity, error) {
	if s.authConfig == nil {
		return core.Identity{}, errors.New("authentication not configured")
	}

	// Determine name and email claims
	nameClaim := s.authConfig.NameClaim
	if nameClaim == "" {
		nameClaim = "name"
	}
	emailClaim := s.authConfig.EmailClaim
	if emailClaim == "" {
		emailClaim = "email"
	}

	// Parse and validate the token
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if s.authConfig.JWTSecret == "" {
			return nil, errors.New("no JWT secret configured")
		}
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.authConfig.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	if err != nil {
		return core.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return core.Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return core.Identity{}, errors.New("invalid token claims")
	}

	// Validate issuer if configured
	if s.authConfig.Issuer != "" {
		issuer, _ := claims.GetIssuer()
		if issuer != s.authConfig.Issuer {
			return core.Identity{}, fmt.Errorf("invalid issuer: expected %s, got %s", s.authConfig.Issuer, issuer)
		}
	}

	// Validate audience if configured
	if s.authConfig.Audience != "" {
		audiences, _ := claims.GetAudience()
		found := false
		for _, aud := range audiences {
			if aud == s.authConfig.Audience {
				found = true
				break
			}
		}
		if !found {
			return core.Identity{}, fmt.Errorf("invalid audience: expected %s", s.authConfig.Audience)
		}
	}

	// Extract identity claims
	name, _ := claims[nameClaim].(string)
	email, _ := claims[emailClaim].(string)

	if name == "" && email == "" {
		return core.Identity{}, fmt.Errorf("token missing identity claims (%s or %s)", nameClaim, emailClaim)
	}

	return core.Identity{Name: name, Email: email}, nil
}

// requireAuth validates the Authorization header when authentication is
// enabled and stores the token's identity on the request context. All
// routes pass through here, reads included.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authConfig == nil || !s.authConfig.Enabled {
			next(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}

		identity, err := s.validateJWT(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next(w, r.WithContext(ctx))
	}
}

// requestIdentity returns the authenticated identity for the request,
// falling back to the server's default identity.
func (s *Server) requestIdentity(r *http.Request) core.Identity {
	if identity, ok := r.Context().Value(identityContextKey).(core.Identity); ok {
		return identity
	}
	return s.identity
}
