package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voxsuite/backend/internal/infrastructure/cache"
	"github.com/voxsuite/backend/internal/interfaces/http/dto"
)

// IdempotencyKeyHeader carries the client-chosen key that dedupes retried
// mutations
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotencyConfig configures the Idempotency middleware
type IdempotencyConfig struct {
	Store cache.IdempotencyStore
	// TTL bounds how long a key blocks replays
	TTL    time.Duration
	Logger *zap.Logger
}

// Idempotency rejects repeated requests carrying the same Idempotency-Key
// header. Requests without the header pass through untouched, and a store
// failure fails open: quota enforcement must not depend on the dedupe cache.
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		// Scope the key per user so clients cannot collide with each other
		scoped := GetJWTUserID(c) + ":" + key

		fresh, err := cfg.Store.MarkProcessed(c.Request.Context(), scoped, cfg.TTL)
		if err != nil {
			cfg.Logger.Warn("Idempotency store unavailable, allowing request",
				zap.Error(err))
			c.Next()
			return
		}
		if !fresh {
			c.AbortWithStatusJSON(http.StatusConflict, dto.NewErrorResponse(
				dto.ErrCodeDuplicateRequest,
				"Request with this idempotency key was already processed",
			))
			return
		}

		c.Next()
	}
}
