package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUserFromToken(t *testing.T) {
	s := NewService(nil, "secret", time.Hour)

	sign := func(claims jwt.MapClaims, method jwt.SigningMethod, key any) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}

	t.Run("RoundTrip", func(t *testing.T) {
		token := sign(jwt.MapClaims{
			"user_id": 7,
			"exp":     time.Now().Add(time.Hour).Unix(),
		}, jwt.SigningMethodHS256, []byte("secret"))

		userID, err := s.GetUserFromToken(token)
		require.NoError(t, err)
		assert.Equal(t, 7, userID)
	})

	t.Run("Expired", func(t *testing.T) {
		token := sign(jwt.MapClaims{
			"user_id": 7,
			"exp":     time.Now().Add(-time.Minute).Unix(),
		}, jwt.SigningMethodHS256, []byte("secret"))

		_, err := s.GetUserFromToken(token)
		assert.Error(t, err)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token := sign(jwt.MapClaims{
			"user_id": 7,
			"exp":     time.Now().Add(time.Hour).Unix(),
		}, jwt.SigningMethodHS256, []byte("other"))

		_, err := s.GetUserFromToken(token)
		assert.Error(t, err)
	})

	t.Run("MissingUserID", func(t *testing.T) {
		token := sign(jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}, jwt.SigningMethodHS256, []byte("secret"))

		_, err := s.GetUserFromToken(token)
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := s.GetUserFromToken("not.a.token")
		assert.Error(t, err)
	})
}
