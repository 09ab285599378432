package memory

import (
	"context"
	"sync"

	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

// Catalog 是商品目录的内存实现
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	scores   map[string]float64
}

func NewCatalog() *Catalog {
	return &Catalog{
		products: make(map[string]domain.Product),
		scores:   make(map[string]float64),
	}
}

func (c *Catalog) Put(p domain.Product, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	c.scores[p.ID] = score
}

func (c *Catalog) FindProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *Catalog) GetProductScore(_ context.Context, productID string, _ domain.QueryContext) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	score, ok := c.scores[productID]
	if !ok {
		return 0, port.ErrProductNotFound
	}
	return score, nil
}
