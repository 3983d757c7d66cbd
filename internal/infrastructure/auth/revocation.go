package auth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker invalidates issued JWT tokens before their natural
// expiration, for logout and forced session termination.
type TokenRevoker interface {
	// RevokeToken marks a single token's JTI as revoked. ttl should be
	// the remaining lifetime of the token.
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error

	// IsRevoked reports whether a token's JTI has been revoked.
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// RevokeUserTokens invalidates every token issued to a user up to
	// now. Tokens issued after the call remain valid.
	RevokeUserTokens(ctx context.Context, userID string, ttl time.Duration) error

	// IsUserRevoked reports whether a token issued at the given time
	// falls under a user-wide revocation.
	IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
}

// RedisTokenRevoker implements TokenRevoker on Redis.
type RedisTokenRevoker struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisTokenRevoker creates a token revoker backed by an existing Redis client.
func NewRedisTokenRevoker(client *redis.Client) *RedisTokenRevoker {
	return &RedisTokenRevoker{
		client:    client,
		keyPrefix: "vox:token:revoked:",
	}
}

func (r *RedisTokenRevoker) jtiKey(jti string) string {
	return r.keyPrefix + "jti:" + jti
}

func (r *RedisTokenRevoker) userKey(userID string) string {
	return r.keyPrefix + "user:" + userID
}

// RevokeToken marks a token's JTI as revoked with the given TTL.
func (r *RedisTokenRevoker) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.jtiKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked checks whether a token's JTI has been revoked.
func (r *RedisTokenRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := r.client.Exists(ctx, r.jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return exists > 0, nil
}

// RevokeUserTokens stores the current timestamp as the user's revocation
// cutoff. Tokens issued at or before the cutoff are rejected.
func (r *RedisTokenRevoker) RevokeUserTokens(ctx context.Context, userID string, ttl time.Duration) error {
	cutoff := time.Now().Unix()
	if err := r.client.Set(ctx, r.userKey(userID), cutoff, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return nil
}

// IsUserRevoked checks a token's issue time against the user's revocation cutoff.
func (r *RedisTokenRevoker) IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	raw, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user revocation: %w", err)
	}

	cutoff, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("failed to parse revocation cutoff: %w", err)
	}

	return issuedAt.Unix() <= cutoff, nil
}

var _ TokenRevoker = (*RedisTokenRevoker)(nil)

// InMemoryTokenRevoker is a single-process TokenRevoker for tests and
// local development.
type InMemoryTokenRevoker struct {
	mu          sync.RWMutex
	revokedJTIs map[string]time.Time // JTI -> entry expiration
	userCutoffs map[string]time.Time // userID -> revocation cutoff
}

// NewInMemoryTokenRevoker creates an empty in-memory token revoker.
func NewInMemoryTokenRevoker() *InMemoryTokenRevoker {
	return &InMemoryTokenRevoker{
		revokedJTIs: make(map[string]time.Time),
		userCutoffs: make(map[string]time.Time),
	}
}

// RevokeToken marks a JTI as revoked until its TTL elapses.
func (r *InMemoryTokenRevoker) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revokedJTIs[jti] = time.Now().Add(ttl)
	return nil
}

// IsRevoked reports whether a JTI is revoked and its entry has not expired.
func (r *InMemoryTokenRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiration, exists := r.revokedJTIs[jti]
	if !exists {
		return false, nil
	}
	if time.Now().After(expiration) {
		delete(r.revokedJTIs, jti)
		return false, nil
	}
	return true, nil
}

// RevokeUserTokens records now as the user's revocation cutoff.
func (r *InMemoryTokenRevoker) RevokeUserTokens(_ context.Context, userID string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userCutoffs[userID] = time.Now()
	return nil
}

// IsUserRevoked checks a token's issue time against the user's cutoff.
func (r *InMemoryTokenRevoker) IsUserRevoked(_ context.Context, userID string, issuedAt time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff, exists := r.userCutoffs[userID]
	if !exists {
		return false, nil
	}
	// UnixNano keeps sub-second precision for fast test clocks.
	return issuedAt.UnixNano() <= cutoff.UnixNano(), nil
}

var _ TokenRevoker = (*InMemoryTokenRevoker)(nil)
