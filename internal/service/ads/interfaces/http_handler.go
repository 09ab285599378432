package interfaces

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"adengine/internal/pkg/logger"
	"adengine/internal/pkg/tracing"
	"adengine/internal/service/ads/application"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

const defaultCandidateLimit = 10

// AdsHandler 封装了广告服务的 HTTP 处理器
type AdsHandler struct {
	billing   *application.BillingService
	placement *application.PlacementService
	lifecycle *application.LifecycleService
}

func NewAdsHandler(billing *application.BillingService, placement *application.PlacementService, lifecycle *application.LifecycleService) *AdsHandler {
	return &AdsHandler{billing: billing, placement: placement, lifecycle: lifecycle}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *AdsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /v1/placements/candidates", h.wrap(h.handleCandidates))
	mux.Handle("POST /v1/placements/merge", h.wrap(h.handleMerge))
	mux.Handle("POST /v1/ads/{id}/clicks", h.wrap(h.handleClick))
	mux.Handle("POST /v1/ads/{id}/validate", h.wrap(h.handleValidate))
	mux.Handle("POST /v1/ads/{id}/activate", h.wrap(h.handleActivate))
	mux.Handle("POST /v1/ads/{id}/stop", h.wrap(h.handleStop))
	mux.Handle("GET /v1/ads/{id}/stats", h.wrap(h.handleStats))
}

// wrap 提取上游 trace 上下文，并把 trace id 挂到请求日志器上
func (h *AdsHandler) wrap(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		fields := map[string]string{"path": r.URL.Path}
		if traceID := tracing.GetTraceIDFromContext(ctx); traceID != "" {
			fields["trace_id"] = traceID
		}
		ctx = logger.WithFields(ctx, fields)
		next(w, r.WithContext(ctx))
	})
}

func (h *AdsHandler) handleCandidates(w http.ResponseWriter, r *http.Request) {
	q := domain.QueryContext{
		Keyword:  r.URL.Query().Get("keyword"),
		Category: r.URL.Query().Get("category"),
	}
	limit := defaultCandidateLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ranked, err := h.placement.GetSponsoredCandidates(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]rankedAdView, 0, len(ranked))
	for _, ra := range ranked {
		resp = append(resp, rankedAdView{AdID: ra.Ad.ID, SellerID: ra.Ad.SellerID, Product: ra.Product, Rank: ra.Snapshot})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": resp})
}

type mergeRequest struct {
	Query   domain.QueryContext `json:"query"`
	Organic []domain.Product    `json:"organic"`
}

func (h *AdsHandler) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	merged, err := h.placement.InsertSponsored(r.Context(), req.Organic, req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]displayItemView, 0, len(merged))
	for i, item := range merged {
		v := displayItemView{Position: i + 1, Product: item.Item()}
		switch it := item.(type) {
		case domain.SponsoredItem:
			v.Type = "sponsored"
			rank := it.Rank
			v.Rank = &rank
		case domain.OrganicItem:
			v.Type = "organic"
		}
		items = append(items, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type clickRequest struct {
	IPAddress string `json:"ip_address"`
}

func (h *AdsHandler) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	ip := req.IPAddress
	if ip == "" {
		ip = clientIP(r)
	}

	res, err := h.billing.ChargeClick(r.Context(), r.PathValue("id"), ip)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// 拒绝计费是正常业务结果，统一返回 200，由 success/reason 区分
	writeJSON(w, http.StatusOK, res)
}

func (h *AdsHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	res, err := h.lifecycle.ValidateBeforeActivation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdsHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	res, err := h.lifecycle.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Activated {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (h *AdsHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	state, err := h.lifecycle.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": state.String()})
}

func (h *AdsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.lifecycle.GetAdStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type rankedAdView struct {
	AdID     string                `json:"ad_id"`
	SellerID string                `json:"seller_id"`
	Product  domain.Product        `json:"product"`
	Rank     domain.AdRankSnapshot `json:"rank"`
}

type displayItemView struct {
	Position int                    `json:"position"`
	Type     string                 `json:"type"`
	Product  domain.Product         `json:"product"`
	Rank     *domain.AdRankSnapshot `json:"rank,omitempty"`
}

// writeError 根据错误类型返回不同的 HTTP 状态码
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var statusCode int
	switch {
	case errors.Is(err, domain.ErrAdNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, port.ErrLockTimeout):
		statusCode = http.StatusServiceUnavailable
	default:
		statusCode = http.StatusInternalServerError
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Int("status", statusCode).Msg("request failed")
	}
	http.Error(w, err.Error(), statusCode)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
