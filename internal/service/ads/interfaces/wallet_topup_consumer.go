// internal/service/ads/interfaces/wallet_topup_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"adengine/internal/pkg/logger"
	"adengine/internal/pkg/mq"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

// WalletToppedUp 钱包服务在充值成功后发布的事件
type WalletToppedUp struct {
	EventID  string          `json:"event_id"`
	SellerID string          `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
	ToppedAt time.Time       `json:"topped_at"`
}

// SellerReactivator 由 LifecycleService 实现
type SellerReactivator interface {
	ReactivateSellerAds(ctx context.Context, sellerID string) (int, error)
}

// WalletTopUpConsumer 是一个驱动适配器：监听充值事件，重新激活因余额不足被暂停的广告。
type WalletTopUpConsumer struct {
	reader     *kafka.Reader
	lifecycle  SellerReactivator
	retryDelay time.Duration
	wg         sync.WaitGroup
	cancel     context.CancelFunc
}

func NewWalletTopUpConsumer(reader *kafka.Reader, lifecycle SellerReactivator) *WalletTopUpConsumer {
	return &WalletTopUpConsumer{reader: reader, lifecycle: lifecycle, retryDelay: time.Second}
}

// Start 开始监听 Kafka 主题，直到 ctx 结束或调用 Stop
func (a *WalletTopUpConsumer) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("✅ wallet top-up consumer started")
		for {
			// 使用 FetchMessage 而不是 ReadMessage，处理完成后再提交 offset
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 wallet top-up consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				time.Sleep(1 * time.Second) // 避免快速失败循环
				continue
			}

			if !a.handleMessage(mq.ExtractTraceContext(ctx, msg), msg) {
				// 没处理完就退出了：不提交，重启后从这条消息继续
				logger.Ctx(ctx).Info().Msg("🛑 wallet top-up consumer shutting down")
				return
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit message")
			}
		}
	}()
}

// Stop 优雅地停止消费者
func (a *WalletTopUpConsumer) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if err := a.reader.Close(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to close top-up reader")
	}
	logger.Ctx(ctx).Info().Msg("✅ wallet top-up consumer stopped")
}

// handleMessage 处理一条消息，遇到可重试的失败原地重试。
// 返回 true 表示可以提交 offset；ctx 结束时返回 false。
func (a *WalletTopUpConsumer) handleMessage(ctx context.Context, msg kafka.Message) bool {
	for {
		err := a.processMessage(ctx, msg)
		if err == nil {
			return true
		}
		logger.Ctx(ctx).Warn().Err(err).Dur("retry_in", a.retryDelay).Msg("⚠️ top-up handling failed, retrying")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(a.retryDelay):
		}
	}
}

// processMessage 反序列化消息并调用应用服务。坏消息直接跳过；
// 只有存储不可用或锁超时这类暂时性错误才会返回，此时 offset 不能提交。
func (a *WalletTopUpConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event WalletToppedUp
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal top-up event, message skipped")
		return nil
	}
	if event.SellerID == "" {
		event.SellerID = string(msg.Key)
	}
	if event.SellerID == "" {
		logger.Ctx(ctx).Warn().Str("event", event.EventID).Msg("top-up event without seller id, message skipped")
		return nil
	}

	n, err := a.lifecycle.ReactivateSellerAds(ctx, event.SellerID)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, port.ErrLockTimeout) {
			return err
		}
		logger.Ctx(ctx).Error().Err(err).Str("seller", event.SellerID).Int("reactivated", n).
			Msg("failed to reactivate seller ads after top-up")
		return nil
	}
	logger.Ctx(ctx).Info().Str("seller", event.SellerID).Str("amount", event.Amount.String()).Int("reactivated", n).
		Msg("seller ads reactivated after top-up")
	return nil
}
