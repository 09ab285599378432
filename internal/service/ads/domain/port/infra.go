package port

import (
	"context"
	"errors"
	"time"

	"adengine/internal/service/ads/domain"
)

var ErrLockTimeout = errors.New("timeout waiting for lock")

// KeyLocker 提供按键串行化的边界（单进程互斥锁或 ZooKeeper 分布式锁）
type KeyLocker interface {
	// Lock 阻塞直到获得 key 的锁，返回的 unlock 必须且只能调用一次
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ClickHistory 是反作弊读取点击历史的端口
type ClickHistory interface {
	Summarize(ctx context.Context, adID, ip string, now time.Time, window time.Duration, dayStart time.Time) (domain.ClickHistorySummary, error)
	// Track 在点击日志追加成功后调用，供带独立索引的实现（Redis）更新窗口
	Track(ctx context.Context, ev domain.ClickEvent) error
}

// EventPublisher 发布领域事件；发布失败不影响已提交的计费结果
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.Event) error
}
