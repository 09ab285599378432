package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"adengine/internal/pkg/keylock"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/infrastructure/adapter"
	"adengine/internal/service/ads/infrastructure/memory"
)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

// harness 用内存存储和固定时钟组装全部应用服务
type harness struct {
	store     *memory.Store
	catalog   *memory.Catalog
	publisher *recordingPublisher
	calendar  Calendar
	locker    *keylock.Locker
	billing   *BillingService
	lifecycle *LifecycleService
	placement *PlacementService
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		catalog:   memory.NewCatalog(),
		publisher: &recordingPublisher{},
		now:       fixedNow,
	}
	h.store.WithClock(func() time.Time { return h.now })
	h.calendar = Calendar{Now: func() time.Time { return h.now }, Location: time.UTC}

	tracer := noop.NewTracerProvider().Tracer("test")
	h.locker = keylock.New()
	history := adapter.NewClickLogHistoryAdapter(h.store)
	fraud := NewFraudService(history, domain.DefaultFraudPolicy(), h.calendar, tracer, nil)

	h.billing = NewBillingService(h.store, h.store, h.store, history, fraud, h.locker, h.publisher, h.calendar, tracer, nil)
	h.lifecycle = NewLifecycleService(h.store, h.store, h.store, h.locker, h.publisher, h.calendar, tracer)
	h.placement = NewPlacementService(h.store, h.catalog, nil, PlacementOptions{Policy: domain.DefaultRankingPolicy()}, h.calendar, tracer, nil)
	return h
}

type adOption func(*domain.Ad)

func withBudget(n int64) adOption {
	return func(a *domain.Ad) { a.TotalClickBudget, a.RemainingClickBudget = n, n }
}

func withState(s domain.State) adOption {
	return func(a *domain.Ad) { a.State = s }
}

func withSeller(id string) adOption {
	return func(a *domain.Ad) { a.SellerID = id }
}

func withProduct(id string) adOption {
	return func(a *domain.Ad) { a.Creative = domain.ProductCreative{ProductID: id} }
}

func withWindow(start, end time.Time) adOption {
	return func(a *domain.Ad) { a.StartDate, a.EndDate = start, end }
}

func withCreatedAt(at time.Time) adOption {
	return func(a *domain.Ad) { a.CreatedAt = at }
}

func (h *harness) addAd(t *testing.T, id, rate string, opts ...adOption) *domain.Ad {
	t.Helper()
	ad := &domain.Ad{
		ID:                   id,
		SellerID:             "seller-1",
		Creative:             domain.ProductCreative{ProductID: "prod-" + id},
		StartDate:            h.now.AddDate(0, 0, -1),
		EndDate:              h.now.AddDate(0, 0, 30),
		Plan:                 domain.BillingPlanPerClick,
		PerClickRate:         decimal.RequireFromString(rate),
		TotalClickBudget:     100,
		RemainingClickBudget: 100,
		State:                domain.Active(),
		CreatedAt:            h.now.Add(-time.Hour),
	}
	for _, opt := range opts {
		opt(ad)
	}
	require.NoError(t, h.store.Save(context.Background(), ad))
	return ad
}

func (h *harness) seedWallet(seller, balance string) {
	h.store.SeedWallet(seller, decimal.RequireFromString(balance))
}

func (h *harness) balance(t *testing.T, seller string) decimal.Decimal {
	t.Helper()
	b, err := h.store.GetBalance(context.Background(), seller)
	require.NoError(t, err)
	return b
}

func (h *harness) ad(t *testing.T, id string) *domain.Ad {
	t.Helper()
	ad, err := h.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return ad
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
