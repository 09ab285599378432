package interfaces

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

type fakeReactivator struct {
	mu       sync.Mutex
	sellers  []string
	err      error
	failures int // 前 failures 次调用返回 err
}

func (f *fakeReactivator) ReactivateSellerAds(_ context.Context, sellerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellers = append(f.sellers, sellerID)
	if f.failures > 0 {
		f.failures--
		return 0, f.err
	}
	if f.failures < 0 {
		return 0, f.err
	}
	return 1, nil
}

func TestProcessTopUpMessage(t *testing.T) {
	cases := []struct {
		name string
		msg  kafka.Message
		want []string
	}{
		{"seller from payload", kafka.Message{Value: []byte(`{"event_id":"e1","seller_id":"seller-1","amount":"100.00"}`)}, []string{"seller-1"}},
		{"seller from key", kafka.Message{Key: []byte("seller-2"), Value: []byte(`{"event_id":"e2","amount":"5"}`)}, []string{"seller-2"}},
		{"no seller", kafka.Message{Value: []byte(`{"event_id":"e3"}`)}, nil},
		{"bad json", kafka.Message{Value: []byte(`{broken`)}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeReactivator{}
			c := NewWalletTopUpConsumer(nil, r)

			c.processMessage(context.Background(), tc.msg)

			assert.Equal(t, tc.want, r.sellers)
		})
	}
}

func TestProcessTopUpMessageSurvivesReactivationError(t *testing.T) {
	r := &fakeReactivator{err: errors.New("boom"), failures: -1}
	c := NewWalletTopUpConsumer(nil, r)

	// 非暂时性错误：记日志后跳过，offset 照常提交
	err := c.processMessage(context.Background(), kafka.Message{Value: []byte(`{"seller_id":"seller-1"}`)})

	assert.NoError(t, err)
	assert.Equal(t, []string{"seller-1"}, r.sellers)
}

func TestProcessTopUpMessageReportsTransientErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"store unavailable", domain.NewStoreError("find paused ads", errors.New("connection reset"))},
		{"lock timeout", port.ErrLockTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeReactivator{err: tc.err, failures: -1}
			c := NewWalletTopUpConsumer(nil, r)

			err := c.processMessage(context.Background(), kafka.Message{Value: []byte(`{"seller_id":"seller-1"}`)})

			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestHandleTopUpMessageRetriesUntilStoreRecovers(t *testing.T) {
	r := &fakeReactivator{err: domain.NewStoreError("find paused ads", errors.New("connection reset")), failures: 2}
	c := NewWalletTopUpConsumer(nil, r)
	c.retryDelay = time.Millisecond

	ok := c.handleMessage(context.Background(), kafka.Message{Value: []byte(`{"seller_id":"seller-1"}`)})

	require.True(t, ok, "message may be committed once reactivation succeeds")
	assert.Equal(t, []string{"seller-1", "seller-1", "seller-1"}, r.sellers)
}

func TestHandleTopUpMessageDoesNotCommitOnShutdown(t *testing.T) {
	r := &fakeReactivator{err: domain.NewStoreError("find paused ads", errors.New("connection reset")), failures: -1}
	c := NewWalletTopUpConsumer(nil, r)
	c.retryDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := c.handleMessage(ctx, kafka.Message{Value: []byte(`{"seller_id":"seller-1"}`)})

	assert.False(t, ok)
	assert.Len(t, r.sellers, 1)
}
