// internal/service/ads/application/placement_service.go
package application

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"adengine/internal/pkg/metrics"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

const scoreLookupConcurrency = 8

// PlacementOptions 排名与缓存参数
type PlacementOptions struct {
	Policy        domain.RankingPolicy
	CandidatePool int           // 每次最多从存储读取的投放中广告数，0 表示不限
	TimeBucket    time.Duration // 排名结果按 (query, 时间桶) 缓存，0 表示不缓存
}

// PlacementService 排名与广告位插入。纯读取，不修改预算和钱包。
type PlacementService struct {
	ads      domain.AdRepository
	catalog  port.ProductCatalog
	matcher  port.QueryMatcher
	opts     PlacementOptions
	calendar Calendar
	tracer   trace.Tracer
	metrics  *metrics.Metrics

	group singleflight.Group
	mu    sync.Mutex
	cache map[string][]domain.RankedAd
	// cacheBucket 是当前缓存所属的时间桶，进入新桶时整体清空
	cacheBucket int64
}

func NewPlacementService(
	ads domain.AdRepository,
	catalog port.ProductCatalog,
	matcher port.QueryMatcher,
	opts PlacementOptions,
	calendar Calendar,
	tracer trace.Tracer,
	m *metrics.Metrics,
) *PlacementService {
	if matcher == nil {
		matcher = port.QueryMatcherFunc(domain.MatchesQuery)
	}
	return &PlacementService{
		ads:      ads,
		catalog:  catalog,
		matcher:  matcher,
		opts:     opts,
		calendar: calendar,
		tracer:   tracer,
		metrics:  m,
		cache:    make(map[string][]domain.RankedAd),
	}
}

// GetSponsoredCandidates 返回排好序的候选广告，同一商品只保留排名最高的一个
func (s *PlacementService) GetSponsoredCandidates(ctx context.Context, q domain.QueryContext, limit int) ([]domain.RankedAd, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetSponsoredCandidates")
	defer span.End()
	span.SetAttributes(attribute.String("query.keyword", q.Keyword), attribute.String("query.category", q.Category))

	ranked, err := s.rankedFor(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ranking failed")
		return nil, err
	}
	ranked = domain.DedupeAgainstOrganic(ranked, nil)
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	span.SetAttributes(attribute.Int("candidates", len(ranked)))
	return ranked, nil
}

// InsertSponsored 把广告插入自然结果的固定广告位。
// 已出现在自然结果中的商品不会再作为广告出现。
func (s *PlacementService) InsertSponsored(ctx context.Context, organic []domain.Product, q domain.QueryContext) ([]domain.DisplayItem, error) {
	ctx, span := s.tracer.Start(ctx, "app.InsertSponsored")
	defer span.End()
	span.SetAttributes(attribute.Int("organic.count", len(organic)))

	if len(organic) == 0 {
		return []domain.DisplayItem{}, nil
	}
	ranked, err := s.rankedFor(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ranking failed")
		return nil, err
	}
	ranked = domain.DedupeAgainstOrganic(ranked, organic)
	if slots := domain.AvailableSlots(len(organic)); len(ranked) > slots {
		ranked = ranked[:slots]
	}
	merged := domain.MergeSponsored(organic, ranked)
	span.SetAttributes(attribute.Int("sponsored.count", len(merged)-len(organic)))
	return merged, nil
}

// rankedFor 返回 q 的全部排名结果。结果按 (query, 时间桶) 记忆化，
// 同一时刻对同一 query 的并发请求只计算一次。返回的切片只读。
func (s *PlacementService) rankedFor(ctx context.Context, q domain.QueryContext) ([]domain.RankedAd, error) {
	if s.opts.TimeBucket <= 0 {
		return s.rank(ctx, q)
	}
	now := s.calendar.now()
	bucket := now.UnixNano() / int64(s.opts.TimeBucket)
	key := q.Key()

	s.mu.Lock()
	if s.cacheBucket != bucket {
		s.cache = make(map[string][]domain.RankedAd)
		s.cacheBucket = bucket
	}
	cached, ok := s.cache[key]
	s.mu.Unlock()
	s.metrics.PlacementCache(ok)
	if ok {
		return cached, nil
	}

	v, err, _ := s.group.Do(key+"@"+strconv.FormatInt(bucket, 10), func() (interface{}, error) {
		ranked, err := s.rank(ctx, q)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.cacheBucket == bucket {
			s.cache[key] = ranked
		}
		s.mu.Unlock()
		return ranked, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.RankedAd), nil
}

func (s *PlacementService) rank(ctx context.Context, q domain.QueryContext) ([]domain.RankedAd, error) {
	start := time.Now()
	defer s.metrics.ObserveRanking(start)

	today := s.calendar.now()
	ads, err := s.ads.ListServing(ctx, today, s.opts.CandidatePool)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(ads))
	for _, ad := range ads {
		if pid, ok := ad.ProductID(); ok {
			ids = append(ids, pid)
		}
	}
	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	// 资格过滤：存储层已按状态/窗口/预算过滤，这里再校验一次并做查询匹配
	cands := make([]domain.Candidate, 0, len(ads))
	for _, ad := range ads {
		pid, ok := ad.ProductID()
		if !ok || !ad.Servable(today) {
			continue
		}
		p, ok := products[pid]
		if !ok || !s.matcher.MatchesQuery(p, q) {
			continue
		}
		cands = append(cands, domain.Candidate{Ad: ad, Product: p})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoreLookupConcurrency)
	for i := range cands {
		g.Go(func() error {
			score, err := s.catalog.GetProductScore(gctx, cands[i].Product.ID, q)
			if errors.Is(err, port.ErrProductNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			cands[i].ProductScore = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s.opts.Policy.Rank(cands), nil
}
