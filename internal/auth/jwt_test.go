package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	mgr := NewJWTManager("access-secret-32-chars-long!!!!!", 15*time.Minute)

	t.Run("generate and validate access token", func(t *testing.T) {
		token, err := mgr.GenerateToken("user-123", "test@example.com")
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := mgr.ValidateAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, "user-123", claims.UserID)
		assert.Equal(t, "test@example.com", claims.Email)
		assert.Equal(t, "promptlift", claims.Issuer)
	})

	t.Run("invalid token fails validation", func(t *testing.T) {
		_, err := mgr.ValidateAccessToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("token signed with different secret fails", func(t *testing.T) {
		otherMgr := NewJWTManager("another-secret-32-chars-long!!!!", 15*time.Minute)
		token, err := otherMgr.GenerateToken("user-456", "x@x.com")
		require.NoError(t, err)

		_, err = mgr.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		shortMgr := NewJWTManager("access-secret-32-chars-long!!!!!", -1*time.Second)
		token, err := shortMgr.GenerateToken("user-exp", "exp@test.com")
		require.NoError(t, err)

		_, err = shortMgr.ValidateAccessToken(token)
		assert.Error(t, err)
	})
}
