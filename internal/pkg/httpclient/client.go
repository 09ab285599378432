// internal/pkg/httpclient/client.go

package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusError 表示下游返回了非 2xx 状态码
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %s", e.URL, e.Status)
}

// Client 是一个可追踪的 HTTP 客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	timeout    time.Duration
}

// NewClient 创建客户端。timeout 为 0 时完全由调用方的 context 控制超时。
func NewClient(tracer trace.Tracer, timeout time.Duration) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
		timeout:    timeout,
	}
}

// GetJSON 发起 GET 请求并把响应体解码到 out
func (c *Client) GetJSON(ctx context.Context, serviceURL string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, serviceURL, params, out)
}

func (c *Client) do(ctx context.Context, method, serviceURL string, params url.Values, out interface{}) error {
	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// 从 URL 中解析出服务名用于 Span
	spanName := fmt.Sprintf("call-%s", strings.Split(parsedURL.Host, ":")[0])
	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	downstreamURL := *parsedURL
	q := downstreamURL.Query()
	for key, values := range params {
		for _, value := range values {
			q.Add(key, value)
		}
	}
	downstreamURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, downstreamURL.String(), nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Accept", "application/json")

	span.SetAttributes(
		attribute.String("http.url", downstreamURL.String()),
		attribute.String("http.method", method),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &StatusError{URL: serviceURL, StatusCode: resp.StatusCode, Status: resp.Status}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode response")
		return fmt.Errorf("decode response from %s: %w", serviceURL, err)
	}
	return nil
}
