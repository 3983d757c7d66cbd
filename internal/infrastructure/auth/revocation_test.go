package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryTokenRevoker_JTI(t *testing.T) {
	ctx := context.Background()
	revoker := NewInMemoryTokenRevoker()

	t.Run("unknown JTI is not revoked", func(t *testing.T) {
		revoked, err := revoker.IsRevoked(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("revoked JTI is rejected until TTL elapses", func(t *testing.T) {
		require.NoError(t, revoker.RevokeToken(ctx, "jti-1", time.Minute))

		revoked, err := revoker.IsRevoked(ctx, "jti-1")
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("expired entry is forgotten", func(t *testing.T) {
		require.NoError(t, revoker.RevokeToken(ctx, "jti-2", -time.Second))

		revoked, err := revoker.IsRevoked(ctx, "jti-2")
		require.NoError(t, err)
		assert.False(t, revoked)
	})
}

func TestInMemoryTokenRevoker_UserCutoff(t *testing.T) {
	ctx := context.Background()
	revoker := NewInMemoryTokenRevoker()

	issuedBefore := time.Now()
	require.NoError(t, revoker.RevokeUserTokens(ctx, "user-1", time.Hour))

	t.Run("token issued before cutoff is revoked", func(t *testing.T) {
		revoked, err := revoker.IsUserRevoked(ctx, "user-1", issuedBefore)
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("token issued after cutoff stays valid", func(t *testing.T) {
		revoked, err := revoker.IsUserRevoked(ctx, "user-1", time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("other users are unaffected", func(t *testing.T) {
		revoked, err := revoker.IsUserRevoked(ctx, "user-2", issuedBefore)
		require.NoError(t, err)
		assert.False(t, revoked)
	})
}
