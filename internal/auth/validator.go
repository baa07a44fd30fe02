package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"messaging-service/internal/models"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrInactiveUser = errors.New("inactive user")
)

// Validator resolves a credential into an identity.
type Validator interface {
	Validate(ctx context.Context, token string) (models.Identity, error)
}

// Resolve validates token with v and rejects identities that are not active.
func Resolve(ctx context.Context, v Validator, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, ErrMissingToken
	}
	identity, err := v.Validate(ctx, token)
	if err != nil {
		return models.Identity{}, err
	}
	if identity.UserID <= 0 || !identity.IsActive {
		return models.Identity{}, ErrInactiveUser
	}
	return identity, nil
}

// TokenFromRequest reads a bearer token from the Authorization header, falling
// back to the token query parameter used by browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
