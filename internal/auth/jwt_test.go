package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	s := NewJWTService("secret", 1)
	token, err := s.Generate("u1", "Ada", "teacher")
	require.NoError(t, err)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Ada", claims.DisplayName)
	assert.Equal(t, "teacher", claims.Role)

	id, name, role, err := s.ValidateIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "Ada", "teacher"}, []string{id, name, role})
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("a", 1).Generate("u1", "Ada", "student")
	require.NoError(t, err)
	_, err = NewJWTService("b", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	claims := Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewJWTService("secret", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsMissingUserID(t *testing.T) {
	token, err := NewJWTService("secret", 1).Generate("", "Ada", "student")
	require.NoError(t, err)
	_, err = NewJWTService("secret", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := NewJWTService("secret", 1).Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
