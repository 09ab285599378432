package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func productAd(id, productID, rate string, createdAt time.Time) *Ad {
	return &Ad{
		ID:                   id,
		SellerID:             "seller-1",
		Creative:             ProductCreative{ProductID: productID},
		StartDate:            testDay.AddDate(0, 0, -1),
		EndDate:              testDay.AddDate(0, 0, 30),
		Plan:                 BillingPlanPerClick,
		PerClickRate:         decimal.RequireFromString(rate),
		TotalClickBudget:     100,
		RemainingClickBudget: 100,
		State:                Active(),
		CreatedAt:            createdAt,
	}
}

func candidate(ad *Ad, score float64) Candidate {
	pid, _ := ad.ProductID()
	return Candidate{Ad: ad, Product: Product{ID: pid, Name: pid}, ProductScore: score}
}

func adIDs(ranked []RankedAd) []string {
	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.Ad.ID)
	}
	return ids
}

func TestRankFormulaOrdersByBidPlusWeightedScore(t *testing.T) {
	policy := DefaultRankingPolicy()
	cands := []Candidate{
		candidate(productAd("ad-low", "p3", "500", testDay), 90),
		candidate(productAd("ad-high", "p1", "2000", testDay), 10),
		candidate(productAd("ad-mid", "p2", "1000", testDay), 50),
	}

	ranked := policy.Rank(cands)

	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"ad-high", "ad-mid", "ad-low"}, adIDs(ranked))
	assert.InDelta(t, 2003.0, ranked[0].Snapshot.Rank, 1e-9)
	assert.InDelta(t, 1015.0, ranked[1].Snapshot.Rank, 1e-9)
	assert.InDelta(t, 527.0, ranked[2].Snapshot.Rank, 1e-9)
}

func TestRankTieBreakPrefersProductScoreThenNewerAd(t *testing.T) {
	policy := DefaultRankingPolicy()
	older := testDay.Add(-48 * time.Hour)
	newer := testDay.Add(-1 * time.Hour)

	// 三者 rank 都是 25，差值在 epsilon 以内
	highScoreOld := candidate(productAd("ad-a", "p1", "10", older), 50)
	lowScore := candidate(productAd("ad-b", "p2", "13", newer), 40)
	highScoreNew := candidate(productAd("ad-c", "p3", "10", newer), 50)

	ranked := policy.Rank([]Candidate{lowScore, highScoreOld, highScoreNew})

	assert.Equal(t, []string{"ad-c", "ad-a", "ad-b"}, adIDs(ranked))
}

func TestRankIsIndependentOfInputOrder(t *testing.T) {
	policy := DefaultRankingPolicy()
	a := candidate(productAd("ad-a", "p1", "1.000", testDay), 10)
	b := candidate(productAd("ad-b", "p2", "1.005", testDay), 10)
	c := candidate(productAd("ad-c", "p3", "1.009", testDay), 10)

	first := adIDs(policy.Rank([]Candidate{a, b, c}))
	second := adIDs(policy.Rank([]Candidate{c, a, b}))
	third := adIDs(policy.Rank([]Candidate{b, c, a}))

	assert.Equal(t, first, second)
	assert.Equal(t, first, third)
}

func TestRankTieIsTransitiveAcrossNearbyRanks(t *testing.T) {
	policy := DefaultRankingPolicy()
	// 相邻两两差值都小于 epsilon，但首尾差值超过 epsilon
	a := candidate(productAd("ad-a", "p1", "10.016", testDay), 0) // rank 10.016
	b := candidate(productAd("ad-b", "p2", "7.008", testDay), 10) // rank 10.008
	c := candidate(productAd("ad-c", "p3", "4.000", testDay), 20) // rank 10.000

	snaps := []AdRankSnapshot{policy.Snapshot(a), policy.Snapshot(b), policy.Snapshot(c)}
	for _, x := range snaps {
		for _, y := range snaps {
			for _, z := range snaps {
				if policy.Less(x, y) && policy.Less(y, z) {
					assert.True(t, policy.Less(x, z), "%s < %s < %s", x.AdID, y.AdID, z.AdID)
				}
			}
		}
	}

	for _, order := range [][]Candidate{{a, b, c}, {c, b, a}, {b, a, c}, {c, a, b}} {
		assert.Equal(t, []string{"ad-a", "ad-b", "ad-c"}, adIDs(policy.Rank(order)))
	}
}

func TestRankTieWithinSameBucketUsesProductScore(t *testing.T) {
	policy := DefaultRankingPolicy()
	higherRank := candidate(productAd("ad-a", "p1", "10.004", testDay), 0)  // rank 10.004
	higherScore := candidate(productAd("ad-b", "p2", "7.001", testDay), 10) // rank 10.001

	ranked := policy.Rank([]Candidate{higherRank, higherScore})

	assert.Equal(t, []string{"ad-b", "ad-a"}, adIDs(ranked))
}

func TestSnapshotClampsProductScore(t *testing.T) {
	policy := DefaultRankingPolicy()

	high := policy.Snapshot(candidate(productAd("ad-a", "p1", "1", testDay), 250))
	low := policy.Snapshot(candidate(productAd("ad-b", "p2", "1", testDay), -3))

	assert.Equal(t, MaxProductScore, high.ProductScore)
	assert.InDelta(t, 31.0, high.Rank, 1e-9)
	assert.Zero(t, low.ProductScore)
	assert.InDelta(t, 1.0, low.Rank, 1e-9)
}

func TestFlatPlanBidsWithPlanCost(t *testing.T) {
	ad := productAd("ad-flat", "p1", "0", testDay)
	ad.Plan = BillingPlanDurationFlat
	ad.PlanCost = decimal.RequireFromString("300")

	snap := DefaultRankingPolicy().Snapshot(candidate(ad, 0))

	assert.InDelta(t, 300.0, snap.BidAmount, 1e-9)
	assert.True(t, ad.ClickCharge().IsZero())
	assert.True(t, ad.ActivationCost().Equal(decimal.RequireFromString("300")))
}
