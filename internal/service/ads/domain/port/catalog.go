package port

import (
	"context"
	"errors"

	"adengine/internal/service/ads/domain"
)

var ErrProductNotFound = errors.New("product not found")

// ProductCatalog 是商品目录的出站端口
type ProductCatalog interface {
	// FindProducts 批量读取商品，不存在的 ID 不出现在结果中
	FindProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// GetProductScore 返回 0..100 的质量/相关性分
	GetProductScore(ctx context.Context, productID string, q domain.QueryContext) (float64, error)
}

// QueryMatcher 判断商品是否命中查询
type QueryMatcher interface {
	MatchesQuery(p domain.Product, q domain.QueryContext) bool
}

// QueryMatcherFunc 让普通函数实现 QueryMatcher
type QueryMatcherFunc func(p domain.Product, q domain.QueryContext) bool

func (f QueryMatcherFunc) MatchesQuery(p domain.Product, q domain.QueryContext) bool { return f(p, q) }
