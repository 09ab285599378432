package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adengine/internal/service/ads/domain/port"
)

// acquire 在 timeout 内获取 key 的锁，timeout 为 0 时只受 ctx 控制。
// 等锁超时统一返回 port.ErrLockTimeout，调用方自己的 ctx 取消则原样返回。
func acquire(ctx context.Context, locker port.KeyLocker, key string, timeout time.Duration) (func(), error) {
	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	unlock, err := locker.Lock(lockCtx, key)
	if err == nil {
		return unlock, nil
	}
	if errors.Is(err, port.ErrLockTimeout) || (ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)) {
		return nil, fmt.Errorf("lock %s: %w", key, port.ErrLockTimeout)
	}
	return nil, fmt.Errorf("lock %s: %w", key, err)
}
