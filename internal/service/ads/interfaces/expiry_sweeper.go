package interfaces

import (
	"context"
	"sync"
	"time"

	"adengine/internal/pkg/logger"
)

// ElapsedExpirer 由 LifecycleService 实现
type ElapsedExpirer interface {
	ExpireElapsed(ctx context.Context) (int, error)
}

// ExpirySweeper 定时把投放窗口已结束的广告批量置为 EXPIRED
type ExpirySweeper struct {
	lifecycle ElapsedExpirer
	interval  time.Duration
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

func NewExpirySweeper(lifecycle ElapsedExpirer, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{lifecycle: lifecycle, interval: interval}
}

func (s *ExpirySweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *ExpirySweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	n, err := s.lifecycle.ExpireElapsed(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Msg("expiry sweep failed")
		}
		return
	}
	if n > 0 {
		logger.Ctx(ctx).Info().Int("expired", n).Msg("expiry sweep finished")
	}
}
