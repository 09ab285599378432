package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adengine/internal/service/ads/domain"
)

func TestValidateBeforeActivationIsReadOnly(t *testing.T) {
	h := newHarness(t)
	h.addAd(t, "ad-1", "2.00", withState(domain.Inactive()), withBudget(0))
	h.seedWallet("seller-1", "1.00")

	res, err := h.lifecycle.ValidateBeforeActivation(context.Background(), "ad-1")

	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{
		domain.ValidationZeroBudget,
		"insufficient wallet balance: need at least 2.00, have 1.00",
	}, res.Errors)
	assert.Equal(t, domain.Inactive(), h.ad(t, "ad-1").State)
}

func TestValidateBeforeActivationMissingAd(t *testing.T) {
	h := newHarness(t)

	res, err := h.lifecycle.ValidateBeforeActivation(context.Background(), "missing")

	require.NoError(t, err)
	assert.Equal(t, domain.NotFoundResult(), res)
}

func TestActivate(t *testing.T) {
	h := newHarness(t)
	h.addAd(t, "ad-1", "2.00", withState(domain.Inactive()))
	h.seedWallet("seller-1", "50.00")

	res, err := h.lifecycle.Activate(context.Background(), "ad-1")

	require.NoError(t, err)
	assert.True(t, res.Activated)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "ACTIVE", res.Status)
	assert.Equal(t, domain.Active(), h.ad(t, "ad-1").State)
	assert.Equal(t, []string{domain.EventAdStateChanged}, h.publisher.names())
}

func TestActivateRejectedKeepsState(t *testing.T) {
	h := newHarness(t)
	h.addAd(t, "ad-1", "2.00", withState(domain.Paused(domain.PauseReasonInsufficientFunds)))
	h.seedWallet("seller-1", "1.99")

	res, err := h.lifecycle.Activate(context.Background(), "ad-1")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, domain.Paused(domain.PauseReasonInsufficientFunds), h.ad(t, "ad-1").State)
	assert.Empty(t, h.publisher.names())
}

func TestActivateBeforeStartDateIsRejected(t *testing.T) {
	h := newHarness(t)
	h.addAd(t, "ad-1", "2.00", withState(domain.Inactive()), withWindow(fixedNow.AddDate(0, 0, 5), fixedNow.AddDate(0, 0, 30)))
	h.seedWallet("seller-1", "100.00")

	res, err := h.lifecycle.Activate(context.Background(), "ad-1")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, []string{domain.ValidationNotStarted}, res.Errors)
	assert.Equal(t, domain.Inactive(), h.ad(t, "ad-1").State)
	assert.Empty(t, h.publisher.names())
}

func TestActivateMissingAd(t *testing.T) {
	h := newHarness(t)

	res, err := h.lifecycle.Activate(context.Background(), "missing")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, []string{"ad not found"}, res.Errors)
}

func TestActivateElapsedAdExpires(t *testing.T) {
	h := newHarness(t)
	h.addAd(t, "ad-1", "1.00",
		withState(domain.Inactive()),
		withWindow(fixedNow.AddDate(0, 0, -10), fixedNow.AddDate(0, 0, -2)))
	h.seedWallet("seller-1", "50.00")

	res, err := h.lifecycle.Activate(context.Background(), "ad-1")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, []string{domain.ErrAdExpired.Error()}, res.Errors)
	assert.Equal(t, domain.Expired(), h.ad(t, "ad-1").State)

	// 终态：再次激活依然失败
	res, err = h.lifecycle.Reactivate(context.Background(), "ad-1")
	require.NoError(t, err)
	assert.False(t, res.Activated)
}

func TestReactivateAfterBudgetExhaustionNeedsBudget(t *testing.T) {
	h := newHarness(t)
	h.addAd(t, "ad-1", "1.00", withBudget(1))
	h.seedWallet("seller-1", "50.00")
	_, err := h.billing.ChargeClick(context.Background(), "ad-1", "10.0.0.1")
	require.NoError(t, err)

	res, err := h.lifecycle.Reactivate(context.Background(), "ad-1")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, []string{domain.ValidationBudgetExhausted}, res.Errors)
	assert.Equal(t, domain.Paused(domain.PauseReasonBudgetExhausted), h.ad(t, "ad-1").State)
}

func TestStop(t *testing.T) {
	h := newHarness(t)
	h.addAd(t, "ad-1", "1.00")

	state, err := h.lifecycle.Stop(context.Background(), "ad-1")

	require.NoError(t, err)
	assert.Equal(t, domain.Inactive(), state)
	assert.Equal(t, domain.Inactive(), h.ad(t, "ad-1").State)

	state, err = h.lifecycle.Stop(context.Background(), "ad-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Inactive(), state)
	assert.Len(t, h.publisher.names(), 1, "stopping a stopped ad publishes nothing")
}

func TestStopMissingAd(t *testing.T) {
	h := newHarness(t)

	_, err := h.lifecycle.Stop(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrAdNotFound)
}

func TestExpireElapsed(t *testing.T) {
	h := newHarness(t)
	past := withWindow(fixedNow.AddDate(0, 0, -10), fixedNow.AddDate(0, 0, -1))
	h.addAd(t, "ad-old-active", "1.00", past)
	h.addAd(t, "ad-old-paused", "1.00", past, withState(domain.Paused(domain.PauseReasonBudgetExhausted)))
	h.addAd(t, "ad-old-expired", "1.00", past, withState(domain.Expired()))
	h.addAd(t, "ad-ends-today", "1.00", withWindow(fixedNow.AddDate(0, 0, -10), fixedNow))

	n, err := h.lifecycle.ExpireElapsed(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.Expired(), h.ad(t, "ad-old-active").State)
	assert.Equal(t, domain.Expired(), h.ad(t, "ad-old-paused").State)
	assert.Equal(t, domain.Active(), h.ad(t, "ad-ends-today").State)
	assert.Len(t, h.publisher.names(), 2)
}

func TestReactivateSellerAdsAfterTopUp(t *testing.T) {
	h := newHarness(t)
	h.addAd(t, "ad-1", "2.00")
	h.addAd(t, "ad-2", "2.00", withState(domain.Paused(domain.PauseReasonBudgetExhausted)))
	h.addAd(t, "ad-3", "2.00", withSeller("seller-2"), withState(domain.Paused(domain.PauseReasonInsufficientFunds)))
	h.seedWallet("seller-1", "1.00")

	res, err := h.billing.ChargeClick(context.Background(), "ad-1", "10.0.0.1")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, domain.Paused(domain.PauseReasonInsufficientFunds), h.ad(t, "ad-1").State)

	_, err = h.store.Credit(context.Background(), "seller-1", dec("100.00"), "top-up")
	require.NoError(t, err)
	n, err := h.lifecycle.ReactivateSellerAds(context.Background(), "seller-1")

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.Active(), h.ad(t, "ad-1").State)
	assert.Equal(t, domain.Paused(domain.PauseReasonBudgetExhausted), h.ad(t, "ad-2").State)
	assert.Equal(t, domain.Paused(domain.PauseReasonInsufficientFunds), h.ad(t, "ad-3").State)
}

func TestGetAdStats(t *testing.T) {
	h := newHarness(t)
	h.addAd(t, "ad-1", "1.50")
	h.seedWallet("seller-1", "100.00")

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.1"} {
		_, err := h.billing.ChargeClick(context.Background(), "ad-1", ip)
		require.NoError(t, err)
	}

	stats, err := h.lifecycle.GetAdStats(context.Background(), "ad-1")

	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalClicks)
	assert.EqualValues(t, 2, stats.BilledClicks)
	assert.True(t, stats.TotalSpend.Equal(dec("3.00")))
	assert.EqualValues(t, 3, stats.TodayClicks)
	assert.True(t, stats.TodaySpend.Equal(dec("3.00")))

	_, err = h.lifecycle.GetAdStats(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAdNotFound)
}
