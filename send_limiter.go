package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	errSendRateLimited        = errors.New("code send rate limited")
	errSendLimiterUnavailable = errors.New("code send limiter unavailable")
)

// codeSendLimiter enforces a fixed window on outbound verification codes per
// address and kind, so one stuck retry loop cannot flood a mailbox.
type codeSendLimiter struct {
	redis  *redis.Client
	config ServiceConfig
}

func newCodeSendLimiter(redisClient *redis.Client, cfg ServiceConfig) *codeSendLimiter {
	return &codeSendLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *codeSendLimiter) CheckSend(ctx context.Context, email string, kind OperationKind) error {
	return l.enforceFixedWindow(ctx, sendWindowKey(email, kind))
}

func (l *codeSendLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errSendLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.SendCooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", errSendLimiterUnavailable, err)
		}
	}

	if count > int64(l.config.MaxSendPerWindow) {
		return errSendRateLimited
	}

	return nil
}

func sendWindowKey(email string, kind OperationKind) string {
	return "afs:" + kind.String() + ":" + email
}
