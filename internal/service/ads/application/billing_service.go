// internal/service/ads/application/billing_service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"adengine/internal/pkg/logger"
	"adengine/internal/pkg/metrics"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

// BillingService 实时点击计费引擎
type BillingService struct {
	ads       domain.AdRepository
	wallets   domain.WalletLedger
	recorder  domain.ChargeRecorder
	history   port.ClickHistory
	fraud     *FraudService
	locker    port.KeyLocker
	publisher port.EventPublisher
	calendar  Calendar
	tracer    trace.Tracer
	metrics   *metrics.Metrics

	lockTimeout time.Duration
}

func NewBillingService(
	ads domain.AdRepository,
	wallets domain.WalletLedger,
	recorder domain.ChargeRecorder,
	history port.ClickHistory,
	fraud *FraudService,
	locker port.KeyLocker,
	publisher port.EventPublisher,
	calendar Calendar,
	tracer trace.Tracer,
	m *metrics.Metrics,
) *BillingService {
	return &BillingService{
		ads:       ads,
		wallets:   wallets,
		recorder:  recorder,
		history:   history,
		fraud:     fraud,
		locker:    locker,
		publisher: publisher,
		calendar:  calendar,
		tracer:    tracer,
		metrics:   m,
	}
}

// WithLockTimeout 设置等待 ad/seller 锁的上限，0 表示只受请求 ctx 控制
func (s *BillingService) WithLockTimeout(d time.Duration) *BillingService {
	s.lockTimeout = d
	return s
}

func adLockKey(adID string) string         { return "ad:" + adID }
func sellerLockKey(sellerID string) string { return "seller:" + sellerID }

// ChargeClick 对一次点击实时计费。
// 返回 error 只表示基础设施故障或一致性被破坏；所有拒绝计费的情况都在 BillingResult 中。
func (s *BillingService) ChargeClick(ctx context.Context, adID, ip string) (*BillingResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.ChargeClick")
	defer span.End()
	span.SetAttributes(attribute.String("ad.id", adID), attribute.String("click.ip", ip))

	res, err := s.chargeClick(ctx, adID, ip)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge click failed")
		logger.Ctx(ctx).Error().Err(err).Str("ad", adID).Str("ip", ip).Msg("charge click failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("billing.success", res.Success), attribute.String("billing.reason", string(res.Reason)))
	if res.Success {
		s.metrics.ClickCharged(res.Charged.InexactFloat64())
	} else {
		s.metrics.ClickDeclined(string(res.Reason))
	}
	return res, nil
}

func (s *BillingService) chargeClick(ctx context.Context, adID, ip string) (*BillingResult, error) {
	// 第一次读取只为拿到 seller_id（不可变），锁内会重新加载
	ad, err := s.ads.FindByID(ctx, adID)
	if errors.Is(err, domain.ErrAdNotFound) {
		return declined(domain.ReasonAdNotFound), nil
	}
	if err != nil {
		return nil, err
	}

	// 串行化边界：先广告后卖家，所有路径保持同一加锁顺序
	unlockAd, err := acquire(ctx, s.locker, adLockKey(adID), s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlockAd()
	unlockSeller, err := acquire(ctx, s.locker, sellerLockKey(ad.SellerID), s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlockSeller()

	// 1. 重新加载广告
	ad, err = s.ads.FindByID(ctx, adID)
	if err != nil {
		return nil, err
	}
	now := s.calendar.now()
	if ad.State.IsActive() {
		if err := s.expireIfElapsed(ctx, ad, now); err != nil {
			return nil, err
		}
	}
	if !ad.State.IsActive() {
		res := declined(domain.ReasonAdNotActive)
		if ad.State == domain.Paused(domain.PauseReasonBudgetExhausted) {
			res.Reason = domain.ReasonBudgetExhausted
		}
		return res, nil
	}
	// ACTIVE 但尚未到 start_date 的广告不能计费
	if !ad.InWindow(now) {
		return declined(domain.ReasonAdNotActive), nil
	}

	// 2. 反作弊；判定必须在写点击日志之前完成，且两者都在锁内
	verdict, err := s.fraud.Check(ctx, ad.ID, ip, now)
	if err != nil {
		return nil, err
	}
	if reason, blocked := s.fraud.Policy().Blocks(verdict); blocked {
		res, err := s.decline(ctx, ad, ip, now, reason, domain.PauseReasonNone)
		if err != nil {
			return nil, err
		}
		res.FraudScore = verdict.FraudScore
		return res, nil
	}

	// 包时段广告只记录点击，不扣费
	if ad.Plan == domain.BillingPlanDurationFlat {
		click := domain.NewUnbilledClick(ad, ip, now, domain.ReasonFlatPlan)
		if _, err := s.recorder.RecordDecline(ctx, domain.DeclineEntry{Click: click}); err != nil {
			return nil, err
		}
		s.track(ctx, click)
		return &BillingResult{
			Success:    true,
			Charged:    decimal.Zero,
			Message:    domain.ReasonFlatPlan.Message(),
			ClickID:    click.ID,
			FraudScore: verdict.FraudScore,
		}, nil
	}

	// 3. 重新读取余额
	amount := ad.ClickCharge()
	balance, err := s.wallets.GetBalance(ctx, ad.SellerID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		balance, err = decimal.Zero, nil
	}
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return s.decline(ctx, ad, ip, now, domain.ReasonInsufficientFund, domain.PauseReasonInsufficientFunds)
	}

	// 4/5. 扣款 + 减预算 + 写日志，一个工作单元；预算归零时存储层同时自动暂停
	click := domain.NewBilledClick(ad, ip, now, amount)
	receipt, err := s.recorder.RecordCharge(ctx, domain.ChargeEntry{Click: click, Amount: amount})
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrWalletNotFound):
		return s.decline(ctx, ad, ip, now, domain.ReasonInsufficientFund, domain.PauseReasonInsufficientFunds)
	case errors.Is(err, domain.ErrBudgetExhausted):
		return s.decline(ctx, ad, ip, now, domain.ReasonBudgetExhausted, domain.PauseReasonBudgetExhausted)
	case errors.Is(err, domain.ErrAdNotServing):
		return declined(domain.ReasonAdNotActive), nil
	case err != nil:
		return nil, err
	}
	if violation := checkChargeInvariants(ad, receipt); violation != nil {
		logger.Ctx(ctx).Error().Str("invariant", violation.Invariant).Str("ad", ad.ID).Str("seller", ad.SellerID).
			Msg(violation.Detail)
		return nil, violation
	}
	s.track(ctx, click)

	events := []domain.Event{domain.ClickCharged{
		ClickID:        click.ID,
		AdID:           ad.ID,
		SellerID:       ad.SellerID,
		IPAddress:      ip,
		Charged:        amount,
		BalanceAfter:   receipt.BalanceAfter,
		RemainingAfter: receipt.RemainingAfter,
		OccurredAt:     now,
	}}
	if receipt.State.AutoPaused() {
		from := ad.State
		ad.State = receipt.State
		events = append(events, domain.NewAdStateChanged(ad, from, now))
		s.metrics.AutoPaused(string(receipt.State.PauseReason))
		logger.Ctx(ctx).Info().Str("ad", ad.ID).Str("reason", string(receipt.State.PauseReason)).Msg("ad auto-paused")
	}
	s.publish(ctx, events...)

	balanceAfter, remaining := receipt.BalanceAfter, receipt.RemainingAfter
	return &BillingResult{
		Success:              true,
		Charged:              amount,
		Message:              "click charged",
		ClickID:              click.ID,
		FraudScore:           verdict.FraudScore,
		BalanceAfter:         &balanceAfter,
		RemainingClickBudget: &remaining,
	}, nil
}

// decline 写入未计费点击，pause 非空时同一工作单元内自动暂停广告
func (s *BillingService) decline(ctx context.Context, ad *domain.Ad, ip string, now time.Time, reason domain.DeclineReason, pause domain.PauseReason) (*BillingResult, error) {
	click := domain.NewUnbilledClick(ad, ip, now, reason)
	paused, err := s.recorder.RecordDecline(ctx, domain.DeclineEntry{Click: click, Pause: pause})
	if err != nil {
		return nil, err
	}
	s.track(ctx, click)

	events := []domain.Event{domain.ClickDeclined{
		ClickID:    click.ID,
		AdID:       ad.ID,
		SellerID:   ad.SellerID,
		IPAddress:  ip,
		Reason:     reason,
		OccurredAt: now,
	}}
	if paused {
		from := ad.State
		ad.State = domain.Paused(pause)
		events = append(events, domain.NewAdStateChanged(ad, from, now))
		s.metrics.AutoPaused(string(pause))
		logger.Ctx(ctx).Info().Str("ad", ad.ID).Str("reason", string(pause)).Msg("ad auto-paused")
	}
	s.publish(ctx, events...)
	logger.Ctx(ctx).Info().Str("ad", ad.ID).Str("ip", ip).Str("reason", string(reason)).Msg("click declined")

	res := declined(reason)
	res.ClickID = click.ID
	return res, nil
}

func (s *BillingService) expireIfElapsed(ctx context.Context, ad *domain.Ad, now time.Time) error {
	from := ad.State
	if !ad.ExpireIfElapsed(now) {
		return nil
	}
	if err := s.ads.UpdateState(ctx, ad.ID, ad.State, now); err != nil {
		return err
	}
	s.publish(ctx, domain.NewAdStateChanged(ad, from, now))
	return nil
}

// track 更新独立的点击窗口索引（Redis）。索引是尽力而为的：失败不影响计费结果，
// 点击日志已经落库，FallbackClickHistory 会在索引可能缺数据时改读点击日志。
func (s *BillingService) track(ctx context.Context, click domain.ClickEvent) {
	if err := s.history.Track(ctx, click); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("ad", click.AdID).Msg("failed to track click in history index")
	}
}

func (s *BillingService) publish(ctx context.Context, events ...domain.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int("events", len(events)).Msg("failed to publish billing events")
	}
}

func checkChargeInvariants(ad *domain.Ad, r *domain.ChargeReceipt) *domain.InvariantViolation {
	switch {
	case r.BalanceAfter.IsNegative():
		return &domain.InvariantViolation{
			Invariant: "wallet_balance_non_negative", AdID: ad.ID, SellerID: ad.SellerID,
			Detail: "balance after debit is " + r.BalanceAfter.String(),
		}
	case r.RemainingAfter < 0:
		return &domain.InvariantViolation{
			Invariant: "click_budget_non_negative", AdID: ad.ID, SellerID: ad.SellerID,
			Detail: fmt.Sprintf("remaining click budget after decrement is %d", r.RemainingAfter),
		}
	case r.RemainingAfter > ad.TotalClickBudget:
		return &domain.InvariantViolation{
			Invariant: "click_budget_within_total", AdID: ad.ID, SellerID: ad.SellerID,
			Detail: fmt.Sprintf("remaining %d exceeds total %d", r.RemainingAfter, ad.TotalClickBudget),
		}
	case r.RemainingAfter == 0 && r.State.IsActive():
		return &domain.InvariantViolation{
			Invariant: "exhausted_ad_not_active", AdID: ad.ID, SellerID: ad.SellerID,
			Detail: "budget reached zero but ad is still active",
		}
	}
	return nil
}
