// internal/service/ads/application/lifecycle_service.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"adengine/internal/pkg/logger"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

// LifecycleService 负责激活前校验与广告状态机
type LifecycleService struct {
	ads       domain.AdRepository
	wallets   domain.WalletLedger
	clicks    domain.ClickLogRepository
	locker    port.KeyLocker
	publisher port.EventPublisher
	calendar  Calendar
	tracer    trace.Tracer

	lockTimeout time.Duration
}

func NewLifecycleService(
	ads domain.AdRepository,
	wallets domain.WalletLedger,
	clicks domain.ClickLogRepository,
	locker port.KeyLocker,
	publisher port.EventPublisher,
	calendar Calendar,
	tracer trace.Tracer,
) *LifecycleService {
	return &LifecycleService{
		ads:       ads,
		wallets:   wallets,
		clicks:    clicks,
		locker:    locker,
		publisher: publisher,
		calendar:  calendar,
		tracer:    tracer,
	}
}

// WithLockTimeout 设置等待广告锁的上限，0 表示只受请求 ctx 控制
func (s *LifecycleService) WithLockTimeout(d time.Duration) *LifecycleService {
	s.lockTimeout = d
	return s
}

// ValidateBeforeActivation 只读校验，不改变状态
func (s *LifecycleService) ValidateBeforeActivation(ctx context.Context, adID string) (domain.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.ValidateBeforeActivation")
	defer span.End()
	span.SetAttributes(attribute.String("ad.id", adID))

	ad, err := s.ads.FindByID(ctx, adID)
	if errors.Is(err, domain.ErrAdNotFound) {
		return domain.NotFoundResult(), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load ad")
		return domain.ValidationResult{}, err
	}
	return s.validate(ctx, ad)
}

func (s *LifecycleService) validate(ctx context.Context, ad *domain.Ad) (domain.ValidationResult, error) {
	wallet, err := s.wallets.GetWallet(ctx, ad.SellerID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		wallet, err = nil, nil
	}
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return domain.ValidateForActivation(ad, wallet, s.calendar.now()), nil
}

// Activate 校验通过后置为 ACTIVE，否则返回错误列表并保持原状态（惰性过期除外）
func (s *LifecycleService) Activate(ctx context.Context, adID string) (*ActivationResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.ActivateAd")
	defer span.End()
	span.SetAttributes(attribute.String("ad.id", adID))

	res, err := s.activate(ctx, adID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "activate failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("ad.activated", res.Activated))
	return res, nil
}

// Reactivate 与 Activate 相同：自动暂停只能通过重新校验解除
func (s *LifecycleService) Reactivate(ctx context.Context, adID string) (*ActivationResult, error) {
	return s.Activate(ctx, adID)
}

func (s *LifecycleService) activate(ctx context.Context, adID string) (*ActivationResult, error) {
	unlock, err := acquire(ctx, s.locker, adLockKey(adID), s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ad, err := s.ads.FindByID(ctx, adID)
	if errors.Is(err, domain.ErrAdNotFound) {
		return newActivationResult(nil, false, []string{domain.ValidationAdNotFound}), nil
	}
	if err != nil {
		return nil, err
	}

	now := s.calendar.now()
	from := ad.State
	if ad.ExpireIfElapsed(now) {
		if err := s.persistTransition(ctx, ad, from); err != nil {
			return nil, err
		}
	}
	if ad.State.IsTerminal() {
		return newActivationResult(ad, false, []string{domain.ErrAdExpired.Error()}), nil
	}

	result, err := s.validate(ctx, ad)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		logger.Ctx(ctx).Info().Str("ad", ad.ID).Strs("errors", result.Errors).Msg("activation rejected")
		return newActivationResult(ad, false, result.Errors), nil
	}

	from = ad.State
	if err := ad.Activate(now); err != nil {
		return newActivationResult(ad, false, []string{err.Error()}), nil
	}
	if from != ad.State {
		if err := s.persistTransition(ctx, ad, from); err != nil {
			return nil, err
		}
		logger.Ctx(ctx).Info().Str("ad", ad.ID).Str("from", from.String()).Msg("ad activated")
	}
	return newActivationResult(ad, true, nil), nil
}

// Stop 任意状态都可以停止；已过期的广告保持 EXPIRED
func (s *LifecycleService) Stop(ctx context.Context, adID string) (domain.State, error) {
	ctx, span := s.tracer.Start(ctx, "app.StopAd")
	defer span.End()
	span.SetAttributes(attribute.String("ad.id", adID))

	unlock, err := acquire(ctx, s.locker, adLockKey(adID), s.lockTimeout)
	if err != nil {
		return domain.State{}, err
	}
	defer unlock()

	ad, err := s.ads.FindByID(ctx, adID)
	if err != nil {
		span.RecordError(err)
		return domain.State{}, err
	}
	from := ad.State
	ad.Stop(s.calendar.now())
	if from != ad.State {
		if err := s.persistTransition(ctx, ad, from); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to persist stop")
			return domain.State{}, err
		}
	}
	return ad.State, nil
}

// ExpireElapsed 批量把窗口已结束的广告置为 EXPIRED，由后台定时任务调用
func (s *LifecycleService) ExpireElapsed(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.ExpireElapsed")
	defer span.End()

	now := s.calendar.now()
	expired, err := s.ads.ExpireElapsed(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "expire sweep failed")
		return 0, err
	}
	events := make([]domain.Event, 0, len(expired))
	for _, ad := range expired {
		from := ad.State
		ad.State = domain.Expired()
		events = append(events, domain.NewAdStateChanged(ad, from, now))
	}
	if len(events) > 0 {
		s.publish(ctx, events...)
		logger.Ctx(ctx).Info().Int("count", len(events)).Msg("expired elapsed ads")
	}
	span.SetAttributes(attribute.Int("ads.expired", len(expired)))
	return len(expired), nil
}

// ReactivateSellerAds 卖家充值后重新激活因余额不足被暂停的广告，返回激活成功的数量
func (s *LifecycleService) ReactivateSellerAds(ctx context.Context, sellerID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.ReactivateSellerAds")
	defer span.End()
	span.SetAttributes(attribute.String("seller.id", sellerID))

	paused, err := s.ads.ListPausedBySeller(ctx, sellerID, domain.PauseReasonInsufficientFunds)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	activated := 0
	for _, ad := range paused {
		res, err := s.Activate(ctx, ad.ID)
		if err != nil {
			return activated, err
		}
		if res.Activated {
			activated++
		}
	}
	return activated, nil
}

func (s *LifecycleService) GetAdStats(ctx context.Context, adID string) (*domain.AdStats, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetAdStats")
	defer span.End()

	if _, err := s.ads.FindByID(ctx, adID); err != nil {
		return nil, err
	}
	return s.clicks.Stats(ctx, adID, s.calendar.dayStart(s.calendar.now()))
}

func (s *LifecycleService) persistTransition(ctx context.Context, ad *domain.Ad, from domain.State) error {
	if err := s.ads.UpdateState(ctx, ad.ID, ad.State, ad.UpdatedAt); err != nil {
		return err
	}
	s.publish(ctx, domain.NewAdStateChanged(ad, from, ad.UpdatedAt))
	return nil
}

func (s *LifecycleService) publish(ctx context.Context, events ...domain.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to publish ad state events")
	}
}
