package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

// countingCatalog 统计对目录的调用次数
type countingCatalog struct {
	port.ProductCatalog
	finds atomic.Int64
}

func (c *countingCatalog) FindProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	c.finds.Add(1)
	return c.ProductCatalog.FindProducts(ctx, ids)
}

func (h *harness) addProduct(id, name, category string, score float64) {
	h.catalog.Put(domain.Product{ID: id, Name: name, Category: category}, score)
}

func TestGetSponsoredCandidatesRanksAndFilters(t *testing.T) {
	h := newHarness(t)
	h.addProduct("p-high", "running shoes", "shoes", 10)
	h.addProduct("p-mid", "trail shoes", "shoes", 50)
	h.addProduct("p-low", "shoe polish", "care", 90)
	h.addProduct("p-paused", "paused shoes", "shoes", 100)
	h.addAd(t, "ad-high", "2000", withProduct("p-high"))
	h.addAd(t, "ad-mid", "1000", withProduct("p-mid"))
	h.addAd(t, "ad-low", "500", withProduct("p-low"))
	h.addAd(t, "ad-paused", "9000", withProduct("p-paused"), withState(domain.Paused(domain.PauseReasonInsufficientFunds)))
	banner := h.addAd(t, "ad-banner", "9999")
	banner.Creative = domain.BannerCreative{Asset: "b.png", Link: "https://example.com"}
	require.NoError(t, h.store.Save(context.Background(), banner))

	ranked, err := h.placement.GetSponsoredCandidates(context.Background(), domain.QueryContext{Keyword: "shoe"}, 10)

	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"ad-high", "ad-mid", "ad-low"}, []string{ranked[0].Ad.ID, ranked[1].Ad.ID, ranked[2].Ad.ID})
	assert.InDelta(t, 2003.0, ranked[0].Snapshot.Rank, 1e-9)
	assert.InDelta(t, 1015.0, ranked[1].Snapshot.Rank, 1e-9)
	assert.InDelta(t, 527.0, ranked[2].Snapshot.Rank, 1e-9)

	ranked, err = h.placement.GetSponsoredCandidates(context.Background(), domain.QueryContext{Category: "care"}, 10)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "ad-low", ranked[0].Ad.ID)
}

func TestGetSponsoredCandidatesLimitAndProductDedupe(t *testing.T) {
	h := newHarness(t)
	h.addProduct("p1", "lamp", "home", 10)
	h.addProduct("p2", "desk lamp", "home", 10)
	h.addAd(t, "ad-1", "3.00", withProduct("p1"))
	h.addAd(t, "ad-2", "5.00", withProduct("p1"))
	h.addAd(t, "ad-3", "1.00", withProduct("p2"))

	ranked, err := h.placement.GetSponsoredCandidates(context.Background(), domain.QueryContext{Keyword: "lamp"}, 10)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "ad-2", ranked[0].Ad.ID)
	assert.Equal(t, "ad-3", ranked[1].Ad.ID)

	ranked, err = h.placement.GetSponsoredCandidates(context.Background(), domain.QueryContext{Keyword: "lamp"}, 1)
	require.NoError(t, err)
	assert.Len(t, ranked, 1)

	ranked, err = h.placement.GetSponsoredCandidates(context.Background(), domain.QueryContext{Keyword: "lamp"}, 0)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestInsertSponsoredTwentyOrganic(t *testing.T) {
	h := newHarness(t)
	organic := make([]domain.Product, 20)
	for i := range organic {
		organic[i] = domain.Product{ID: fmt.Sprintf("org-%d", i), Name: "widget"}
		h.addProduct(organic[i].ID, "widget", "tools", 50)
	}
	for i := 0; i < 5; i++ {
		pid := fmt.Sprintf("sp-%d", i)
		h.addProduct(pid, "widget pro", "tools", 50)
		h.addAd(t, fmt.Sprintf("ad-%d", i), fmt.Sprintf("%d.00", 10-i), withProduct(pid))
	}
	// 已在自然结果中的商品不再作为广告出现
	h.addAd(t, "ad-organic-dup", "99.00", withProduct("org-3"))

	merged, err := h.placement.InsertSponsored(context.Background(), organic, domain.QueryContext{Keyword: "widget"})

	require.NoError(t, err)
	require.Len(t, merged, 24)
	var sponsoredAt []int
	var organicKept []domain.Product
	for i, item := range merged {
		switch it := item.(type) {
		case domain.SponsoredItem:
			sponsoredAt = append(sponsoredAt, i+1)
			assert.NotEqual(t, "org-3", it.Product.ID)
		case domain.OrganicItem:
			organicKept = append(organicKept, it.Product)
		}
	}
	assert.Equal(t, []int{1, 3, 6, 16}, sponsoredAt)
	assert.Equal(t, organic, organicKept)
	assert.Equal(t, "sp-0", merged[0].Item().ID)
}

func TestInsertSponsoredEmptyOrganic(t *testing.T) {
	h := newHarness(t)
	h.addProduct("p1", "widget", "tools", 50)
	h.addAd(t, "ad-1", "1.00", withProduct("p1"))

	merged, err := h.placement.InsertSponsored(context.Background(), nil, domain.QueryContext{Keyword: "widget"})

	require.NoError(t, err)
	assert.Empty(t, merged)
}

func TestInsertSponsoredNoEligibleAds(t *testing.T) {
	h := newHarness(t)
	organic := []domain.Product{{ID: "o1"}, {ID: "o2"}}

	merged, err := h.placement.InsertSponsored(context.Background(), organic, domain.QueryContext{})

	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.IsType(t, domain.OrganicItem{}, merged[0])
	assert.IsType(t, domain.OrganicItem{}, merged[1])
}

func TestPlacementCachesPerTimeBucket(t *testing.T) {
	h := newHarness(t)
	h.addProduct("p1", "widget", "tools", 50)
	h.addAd(t, "ad-1", "1.00", withProduct("p1"))
	catalog := &countingCatalog{ProductCatalog: h.catalog}
	svc := NewPlacementService(h.store, catalog, nil, PlacementOptions{
		Policy:     domain.DefaultRankingPolicy(),
		TimeBucket: 10 * time.Second,
	}, h.calendar, noop.NewTracerProvider().Tracer("test"), nil)
	q := domain.QueryContext{Keyword: "widget"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ranked, err := svc.GetSponsoredCandidates(context.Background(), q, 5)
			assert.NoError(t, err)
			assert.Len(t, ranked, 1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, catalog.finds.Load(), int64(8))
	before := catalog.finds.Load()

	_, err := svc.GetSponsoredCandidates(context.Background(), q, 5)
	require.NoError(t, err)
	assert.Equal(t, before, catalog.finds.Load(), "same bucket is served from cache")

	h.now = h.now.Add(11 * time.Second)
	_, err = svc.GetSponsoredCandidates(context.Background(), q, 5)
	require.NoError(t, err)
	assert.Equal(t, before+1, catalog.finds.Load(), "new bucket recomputes")
}

func TestPlacementUsesCustomMatcher(t *testing.T) {
	h := newHarness(t)
	h.addProduct("p1", "widget", "tools", 50)
	h.addProduct("p2", "gadget", "tools", 50)
	h.addAd(t, "ad-1", "1.00", withProduct("p1"))
	h.addAd(t, "ad-2", "1.00", withProduct("p2"))
	onlyGadgets := port.QueryMatcherFunc(func(p domain.Product, _ domain.QueryContext) bool { return p.Name == "gadget" })
	svc := NewPlacementService(h.store, h.catalog, onlyGadgets, PlacementOptions{Policy: domain.DefaultRankingPolicy()},
		h.calendar, noop.NewTracerProvider().Tracer("test"), nil)

	ranked, err := svc.GetSponsoredCandidates(context.Background(), domain.QueryContext{}, 10)

	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "ad-2", ranked[0].Ad.ID)
}
