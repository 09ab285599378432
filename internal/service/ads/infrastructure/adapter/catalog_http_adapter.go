package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"adengine/internal/pkg/httpclient"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

// CatalogHTTPAdapter 通过 HTTP 调用商品目录服务，实现 port.ProductCatalog
type CatalogHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewCatalogHTTPAdapter(client *httpclient.Client, baseURL string) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type productDTO struct {
	domain.Product
	Rating float64 `json:"rating"`
	Sales  int64   `json:"sales"`
	CTR    float64 `json:"ctr"`
}

type productsResponse struct {
	Products []productDTO `json:"products"`
}

type scoreResponse struct {
	ProductID string   `json:"product_id"`
	Score     *float64 `json:"score"`
	Rating    float64  `json:"rating"`
	Sales     int64    `json:"sales"`
	CTR       float64  `json:"ctr"`
}

func (a *CatalogHTTPAdapter) FindProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var resp productsResponse
	params := url.Values{"ids": {strings.Join(ids, ",")}}
	if err := a.client.GetJSON(ctx, a.baseURL+"/products", params, &resp); err != nil {
		return nil, domain.NewStoreError("catalog.find_products", err)
	}
	for _, p := range resp.Products {
		out[p.ID] = p.Product
	}
	return out, nil
}

// GetProductScore 目录没有直接给出 score 时，用评分/销量/点击率估算
func (a *CatalogHTTPAdapter) GetProductScore(ctx context.Context, productID string, q domain.QueryContext) (float64, error) {
	var resp scoreResponse
	params := url.Values{}
	if q.Keyword != "" {
		params.Set("keyword", q.Keyword)
	}
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	err := a.client.GetJSON(ctx, a.baseURL+"/products/"+url.PathEscape(productID)+"/score", params, &resp)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return 0, port.ErrProductNotFound
		}
		return 0, domain.NewStoreError("catalog.product_score", err)
	}
	if resp.Score != nil {
		return *resp.Score, nil
	}
	return domain.ProductScore(resp.Rating, resp.Sales, resp.CTR), nil
}
