package controller

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/trustpoll/trustpoll/pkg/session"
)

type contextKey string

const identityKey contextKey = "identity"

// identityFrom returns the voter identity hash the middleware attached.
func identityFrom(r *http.Request) string {
	identity, _ := r.Context().Value(identityKey).(string)
	return identity
}

// RequireVoter gates voting endpoints on a valid session bearer token and
// attaches the verified identity hash to the request context.
func (c *Controller) RequireVoter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			c.writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		claims, err := c.App.Sessions.Verify(token)
		if err != nil {
			code := "unauthorized"
			if errors.Is(err, session.ErrExpired) {
				code = "expired"
			}
			c.writeError(w, http.StatusUnauthorized, code, "invalid session token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, claims.Identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ValidateToken checks if the Authorization header contains a valid AdminToken
func (c *Controller) ValidateToken(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		return token == c.AdminToken
	}
	return false
}

// ValidateSessionCookie checks if the admin session cookie is present and valid
func (c *Controller) ValidateSessionCookie(r *http.Request) bool {
	cookie, err := r.Cookie("tp_session")
	if err != nil {
		return false
	}
	tok, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (any, error) { return c.JWTSecret, nil })
	return err == nil && tok.Valid
}

// ValidateRole checks the role in a valid admin session cookie
func (c *Controller) ValidateRole(r *http.Request, role string) bool {
	cookie, err := r.Cookie("tp_session")
	if err != nil {
		return false
	}

	tok, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (any, error) { return c.JWTSecret, nil })
	if err != nil || !tok.Valid {
		return false
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}

	tokenRole, _ := claims["role"].(string)
	return tokenRole == role
}

// RequireAdmin middleware
func (c *Controller) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ValidateToken(r) || (c.ValidateSessionCookie(r) && c.ValidateRole(r, "admin")) {
			next.ServeHTTP(w, r)
			return
		}

		if !c.ValidateSessionCookie(r) {
			c.writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		c.writeError(w, http.StatusForbidden, "forbidden", "forbidden")
	})
}

// IssueAdminSession issues an admin session cookie
func (c *Controller) IssueAdminSession(w http.ResponseWriter, username string) {
	ttl := 8 * time.Hour
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  username,
		"role": "admin",
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	})
	ss, _ := token.SignedString(c.JWTSecret)
	http.SetCookie(w, &http.Cookie{
		Name:     "tp_session",
		Value:    ss,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("ENVIRONMENT") == "production",
		SameSite: http.SameSiteStrictMode,
		// Persist across restarts:
		MaxAge: int(ttl.Seconds()),
	})
}
