// internal/service/ads/application/fraud_service.go
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"adengine/internal/pkg/logger"
	"adengine/internal/pkg/metrics"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

// FraudService 根据点击历史给一次点击打分
type FraudService struct {
	history  port.ClickHistory
	policy   domain.FraudPolicy
	calendar Calendar
	tracer   trace.Tracer
	metrics  *metrics.Metrics
}

func NewFraudService(history port.ClickHistory, policy domain.FraudPolicy, calendar Calendar, tracer trace.Tracer, m *metrics.Metrics) *FraudService {
	return &FraudService{history: history, policy: policy, calendar: calendar, tracer: tracer, metrics: m}
}

func (s *FraudService) Policy() domain.FraudPolicy { return s.policy }

// Check 返回 {is_duplicate, fraud_score}。只读，不写点击日志。
func (s *FraudService) Check(ctx context.Context, adID, ip string, now time.Time) (domain.FraudVerdict, error) {
	ctx, span := s.tracer.Start(ctx, "app.FraudCheck")
	defer span.End()
	span.SetAttributes(attribute.String("ad.id", adID), attribute.String("click.ip", ip))

	summary, err := s.history.Summarize(ctx, adID, ip, now, s.policy.Window, s.calendar.dayStart(now))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "click history lookup failed")
		return domain.FraudVerdict{}, err
	}

	verdict := s.policy.Evaluate(summary)
	span.SetAttributes(
		attribute.Bool("fraud.duplicate", verdict.IsDuplicate),
		attribute.Int("fraud.score", verdict.FraudScore),
	)
	switch {
	case verdict.IsDuplicate:
		s.metrics.FraudVerdict("duplicate")
	case verdict.IPLimitExceeded:
		s.metrics.FraudVerdict("ip_limit")
	default:
		s.metrics.FraudVerdict("clean")
	}
	if len(verdict.Indicators) > 0 {
		logger.Ctx(ctx).Info().Str("ad", adID).Str("ip", ip).Int("score", verdict.FraudScore).
			Strs("indicators", verdict.Indicators).Msg("suspicious click")
	}
	return verdict, nil
}
