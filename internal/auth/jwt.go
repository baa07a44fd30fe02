package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"messaging-service/internal/models"
)

// Claims carried by tokens the JWT validator accepts.
type Claims struct {
	UserID   int64 `json:"user_id"`
	IsStaff  bool  `json:"is_staff,omitempty"`
	Disabled bool  `json:"disabled,omitempty"`
	jwt.RegisteredClaims
}

// JWT validates HS256 tokens signed with a shared secret.
type JWT struct {
	secret []byte
}

func NewJWT(secret string) *JWT { return &JWT{secret: []byte(secret)} }

// Sign issues a token for identity; used by tests and local tooling.
func (j *JWT) Sign(identity models.Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:   identity.UserID,
		IsStaff:  identity.IsStaff,
		Disabled: !identity.IsActive,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(identity.UserID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWT) Validate(_ context.Context, token string) (models.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return models.Identity{}, ErrInvalidToken
	}
	return models.Identity{UserID: claims.UserID, IsStaff: claims.IsStaff, IsActive: !claims.Disabled}, nil
}

var _ Validator = (*JWT)(nil)
