package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Anonymous is the submitter recorded when a request carries no identity.
const Anonymous = "anonymous"

type contextKey string

const submitterKey contextKey = "submitter"

var errNoSubject = errors.New("token has no subject")

// Authenticator resolves the submitter of a request from an HS256 bearer
// token. Without a secret every request is anonymous.
type Authenticator struct {
	secret   []byte
	required bool
}

func NewAuthenticator(secret string, required bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), required: required && secret != ""}
}

// Submitter returns the identity stored by Middleware.
func Submitter(ctx context.Context) string {
	if s, ok := ctx.Value(submitterKey).(string); ok && s != "" {
		return s
	}
	return Anonymous
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(a.secret) == 0 || header == "" {
			if a.required {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), submitterKey, Anonymous)))
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}
		sub, err := a.subject(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), submitterKey, sub)))
	})
}

func (a *Authenticator) subject(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errNoSubject
	}
	return sub, nil
}
