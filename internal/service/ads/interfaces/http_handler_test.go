package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"adengine/internal/pkg/keylock"
	"adengine/internal/service/ads/application"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
	"adengine/internal/service/ads/infrastructure/adapter"
	"adengine/internal/service/ads/infrastructure/memory"
)

var handlerNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type testServer struct {
	store   *memory.Store
	catalog *memory.Catalog
	mux     *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore().WithClock(func() time.Time { return handlerNow })
	catalog := memory.NewCatalog()
	calendar := application.Calendar{Now: func() time.Time { return handlerNow }, Location: time.UTC}
	tracer := noop.NewTracerProvider().Tracer("test")
	locker := keylock.New()
	history := adapter.NewClickLogHistoryAdapter(store)
	hub := NewStatusHub()

	fraud := application.NewFraudService(history, domain.DefaultFraudPolicy(), calendar, tracer, nil)
	billing := application.NewBillingService(store, store, store, history, fraud, locker, hub, calendar, tracer, nil)
	lifecycle := application.NewLifecycleService(store, store, store, locker, hub, calendar, tracer)
	placement := application.NewPlacementService(store, catalog, nil, application.PlacementOptions{Policy: domain.DefaultRankingPolicy()}, calendar, tracer, nil)

	mux := http.NewServeMux()
	NewAdsHandler(billing, placement, lifecycle).RegisterRoutes(mux)
	return &testServer{store: store, catalog: catalog, mux: mux}
}

func (s *testServer) addAd(t *testing.T, id, productID, rate string, budget int64, state domain.State) {
	t.Helper()
	require.NoError(t, s.store.Save(context.Background(), &domain.Ad{
		ID:                   id,
		SellerID:             "seller-1",
		Creative:             domain.ProductCreative{ProductID: productID},
		StartDate:            handlerNow.AddDate(0, 0, -1),
		EndDate:              handlerNow.AddDate(0, 0, 30),
		Plan:                 domain.BillingPlanPerClick,
		PerClickRate:         decimal.RequireFromString(rate),
		TotalClickBudget:     budget,
		RemainingClickBudget: budget,
		State:                state,
		CreatedAt:            handlerNow.AddDate(0, 0, -1),
	}))
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func TestClickEndpointChargesAndDeclines(t *testing.T) {
	s := newTestServer(t)
	s.addAd(t, "ad-1", "p-1", "2.50", 10, domain.Active())
	s.store.SeedWallet("seller-1", decimal.RequireFromString("1000.00"))

	rec := s.do(http.MethodPost, "/v1/ads/ad-1/clicks", `{"ip_address":"10.0.0.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res application.BillingResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.True(t, res.Charged.Equal(decimal.RequireFromString("2.50")))
	require.NotNil(t, res.BalanceAfter)
	assert.True(t, res.BalanceAfter.Equal(decimal.RequireFromString("997.50")))

	// 同一 IP 在窗口内重复点击：仍是 200，只是不计费
	rec = s.do(http.MethodPost, "/v1/ads/ad-1/clicks", `{"ip_address":"10.0.0.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res = application.BillingResult{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.False(t, res.Success)
	assert.Equal(t, domain.ReasonDuplicateClick, res.Reason)
}

func TestClickEndpointUsesForwardedIP(t *testing.T) {
	s := newTestServer(t)
	s.addAd(t, "ad-1", "p-1", "1.00", 10, domain.Active())
	s.store.SeedWallet("seller-1", decimal.RequireFromString("10.00"))

	req := httptest.NewRequest(http.MethodPost, "/v1/ads/ad-1/clicks", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	clicks := s.store.Clicks("ad-1")
	require.Len(t, clicks, 1)
	assert.Equal(t, "203.0.113.9", clicks[0].IPAddress)
}

func TestClickEndpointRejectsBadBody(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v1/ads/ad-1/clicks", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCandidatesEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.catalog.Put(domain.Product{ID: "p-1", Name: "running shoes", Category: "shoes"}, 10)
	s.catalog.Put(domain.Product{ID: "p-2", Name: "trail shoes", Category: "shoes"}, 50)
	s.addAd(t, "ad-1", "p-1", "2000", 10, domain.Active())
	s.addAd(t, "ad-2", "p-2", "1000", 10, domain.Active())

	rec := s.do(http.MethodGet, "/v1/placements/candidates?keyword=shoes&limit=1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Candidates []rankedAdView `json:"candidates"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Candidates, 1)
	assert.Equal(t, "ad-1", body.Candidates[0].AdID)
	assert.InDelta(t, 2003.0, body.Candidates[0].Rank.Rank, 1e-9)

	rec = s.do(http.MethodGet, "/v1/placements/candidates?limit=-3", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMergeEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.catalog.Put(domain.Product{ID: "p-1", Name: "widget pro"}, 50)
	s.addAd(t, "ad-1", "p-1", "1.00", 10, domain.Active())

	rec := s.do(http.MethodPost, "/v1/placements/merge",
		`{"query":{"keyword":"widget"},"organic":[{"id":"o-1","name":"widget"},{"id":"o-2","name":"widget"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []displayItemView `json:"items"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Items, 3)
	assert.Equal(t, "sponsored", body.Items[0].Type)
	assert.Equal(t, "p-1", body.Items[0].Product.ID)
	assert.NotNil(t, body.Items[0].Rank)
	assert.Equal(t, "organic", body.Items[1].Type)
	assert.Equal(t, 3, body.Items[2].Position)
}

func TestLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.addAd(t, "ad-1", "p-1", "2.00", 5, domain.Inactive())
	s.store.SeedWallet("seller-1", decimal.RequireFromString("1.00"))

	rec := s.do(http.MethodPost, "/v1/ads/ad-1/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v domain.ValidationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.False(t, v.Valid)

	rec = s.do(http.MethodPost, "/v1/ads/ad-1/activate", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	_, err := s.store.Credit(context.Background(), "seller-1", decimal.RequireFromString("10.00"), "top-up")
	require.NoError(t, err)
	rec = s.do(http.MethodPost, "/v1/ads/ad-1/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var act application.ActivationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&act))
	assert.True(t, act.Activated)
	assert.Equal(t, "ACTIVE", act.Status)

	rec = s.do(http.MethodPost, "/v1/ads/ad-1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"INACTIVE"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/v1/ads/ad-1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.AdStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "ad-1", st.AdID)
	assert.Zero(t, st.TotalClicks)
}

func TestMissingAdMapsToNotFound(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/v1/ads/missing/stop", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/ads/missing/stats", "").Code)

	// 点击不存在的广告是业务拒绝，不是 404
	rec := s.do(http.MethodPost, "/v1/ads/missing/clicks", `{"ip_address":"10.0.0.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res application.BillingResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, domain.ReasonAdNotFound, res.Reason)
}

func TestWriteErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrAdNotFound, http.StatusNotFound},
		{"store unavailable", domain.NewStoreError("find ad", fmt.Errorf("dial tcp: refused")), http.StatusServiceUnavailable},
		{"lock timeout", fmt.Errorf("lock ad:ad-1: %w", port.ErrLockTimeout), http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()

			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
