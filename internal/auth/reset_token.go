package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/bantay/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ResetTokenType = "password_reset"

// ResetClaims carry the email that just passed OTP verification.
type ResetClaims struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ResetTokenManager signs and validates password-reset continuation tokens
type ResetTokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewResetTokenManager(secret string, ttl time.Duration) *ResetTokenManager {
	return &ResetTokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed HS256 token bound to email.
func (m *ResetTokenManager) Issue(email string) (string, *ResetClaims, error) {
	now := m.now()
	claims := &ResetClaims{
		Type:  ResetTokenType,
		Email: strings.ToLower(strings.TrimSpace(email)),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   "password-reset",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign reset token: %w", err)
	}
	return signed, claims, nil
}

// Validate checks signature, expiry and type. Every failure maps to
// models.ErrInvalidResetToken.
func (m *ResetTokenManager) Validate(tokenString string) (*ResetClaims, error) {
	claims := &ResetClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, errors.Join(models.ErrInvalidResetToken, err)
	}

	if claims.Type != ResetTokenType || claims.Email == "" || claims.ID == "" {
		return nil, models.ErrInvalidResetToken
	}
	return claims, nil
}
