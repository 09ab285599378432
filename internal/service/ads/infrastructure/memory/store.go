// internal/service/ads/infrastructure/memory/store.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"adengine/internal/service/ads/domain"
)

// Store 是广告、钱包、点击日志的内存实现。
// 一把锁保护全部数据，所以 RecordCharge 天然是原子的。
type Store struct {
	mu           sync.RWMutex
	ads          map[string]*domain.Ad
	wallets      map[string]*domain.WalletBalance
	clicks       []domain.ClickEvent
	transactions []domain.WalletTransaction
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		ads:     make(map[string]*domain.Ad),
		wallets: make(map[string]*domain.WalletBalance),
		now:     time.Now,
	}
}

// WithClock 替换时间来源，测试用
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func cloneAd(a *domain.Ad) *domain.Ad {
	c := *a
	return &c
}

// ---- AdRepository ----

func (s *Store) FindByID(_ context.Context, id string) (*domain.Ad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.ads[id]
	if !ok {
		return nil, domain.ErrAdNotFound
	}
	return cloneAd(a), nil
}

func (s *Store) Save(_ context.Context, ad *domain.Ad) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = s.now()
	}
	s.ads[ad.ID] = cloneAd(ad)
	return nil
}

func (s *Store) UpdateState(_ context.Context, id string, state domain.State, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ads[id]
	if !ok {
		return domain.ErrAdNotFound
	}
	a.State = state
	a.UpdatedAt = at
	return nil
}

func (s *Store) DecrementClickBudget(_ context.Context, id string, at time.Time) (int64, domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(id, at)
}

func (s *Store) decrementLocked(id string, at time.Time) (int64, domain.State, error) {
	a, ok := s.ads[id]
	if !ok {
		return 0, domain.State{}, domain.ErrAdNotFound
	}
	if !a.State.IsActive() {
		return a.RemainingClickBudget, a.State, domain.ErrAdNotServing
	}
	if a.RemainingClickBudget <= 0 {
		return a.RemainingClickBudget, a.State, domain.ErrBudgetExhausted
	}
	a.RemainingClickBudget--
	if a.RemainingClickBudget == 0 {
		a.State = domain.Paused(domain.PauseReasonBudgetExhausted)
	}
	a.UpdatedAt = at
	return a.RemainingClickBudget, a.State, nil
}

func (s *Store) ListServing(_ context.Context, today time.Time, limit int) ([]*domain.Ad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Ad, 0)
	for _, a := range s.ads {
		if _, isProduct := a.ProductID(); isProduct && a.Servable(today) {
			out = append(out, cloneAd(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListPausedBySeller(_ context.Context, sellerID string, reason domain.PauseReason) ([]*domain.Ad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Ad
	for _, a := range s.ads {
		if a.SellerID == sellerID && a.State == domain.Paused(reason) {
			out = append(out, cloneAd(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ExpireElapsed(_ context.Context, today time.Time) ([]*domain.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Ad
	for _, a := range s.ads {
		if a.State.IsTerminal() || !a.Elapsed(today) {
			continue
		}
		out = append(out, cloneAd(a))
		a.State = domain.Expired()
		a.UpdatedAt = today
	}
	return out, nil
}

// ---- WalletLedger ----

// SeedWallet 设置卖家余额，测试和本地运行用
func (s *Store) SeedWallet(sellerID string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[sellerID] = &domain.WalletBalance{SellerID: sellerID, Balance: balance, LockedBalance: decimal.Zero, UpdatedAt: s.now()}
}

func (s *Store) GetWallet(_ context.Context, sellerID string) (*domain.WalletBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[sellerID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	c := *w
	return &c, nil
}

func (s *Store) GetBalance(ctx context.Context, sellerID string) (decimal.Decimal, error) {
	w, err := s.GetWallet(ctx, sellerID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (s *Store) Debit(_ context.Context, sellerID string, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.debitLocked(sellerID, "", amount, "debit")
	if err == domain.ErrInsufficientFunds || err == domain.ErrWalletNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) debitLocked(sellerID, adID string, amount decimal.Decimal, desc string) (domain.WalletTransaction, error) {
	w, ok := s.wallets[sellerID]
	if !ok {
		return domain.WalletTransaction{}, domain.ErrWalletNotFound
	}
	if w.Balance.LessThan(amount) {
		return domain.WalletTransaction{}, domain.ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = s.now()
	tx := domain.WalletTransaction{
		ID:           uuid.NewString(),
		SellerID:     sellerID,
		AdID:         adID,
		Type:         domain.TransactionDebit,
		Amount:       amount,
		BalanceAfter: w.Balance,
		Description:  desc,
		CreatedAt:    w.UpdatedAt,
	}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *Store) Credit(_ context.Context, sellerID string, amount decimal.Decimal, description string) (*domain.WalletBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[sellerID]
	if !ok {
		w = &domain.WalletBalance{SellerID: sellerID, Balance: decimal.Zero, LockedBalance: decimal.Zero}
		s.wallets[sellerID] = w
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = s.now()
	s.transactions = append(s.transactions, domain.WalletTransaction{
		ID:           uuid.NewString(),
		SellerID:     sellerID,
		Type:         domain.TransactionCredit,
		Amount:       amount,
		BalanceAfter: w.Balance,
		Description:  description,
		CreatedAt:    w.UpdatedAt,
	})
	c := *w
	return &c, nil
}

// Transactions 返回卖家的钱包流水
func (s *Store) Transactions(sellerID string) []domain.WalletTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.WalletTransaction
	for _, t := range s.transactions {
		if t.SellerID == sellerID {
			out = append(out, t)
		}
	}
	return out
}

// ---- ClickLogRepository ----

func (s *Store) Append(_ context.Context, ev domain.ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, ev)
	return nil
}

func (s *Store) CountSince(_ context.Context, adID, ip string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.clicks {
		if c.AdID == adID && c.IPAddress == ip && !c.ClickedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) MostRecent(_ context.Context, adID, ip string) (*domain.ClickEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.ClickEvent
	for i := range s.clicks {
		c := s.clicks[i]
		if c.AdID == adID && c.IPAddress == ip && (latest == nil || c.ClickedAt.After(latest.ClickedAt)) {
			latest = &c
		}
	}
	return latest, nil
}

func (s *Store) DistinctAdsSince(_ context.Context, ip string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, c := range s.clicks {
		if c.IPAddress != ip || c.ClickedAt.Before(since) {
			continue
		}
		if _, ok := seen[c.AdID]; !ok {
			seen[c.AdID] = struct{}{}
			out = append(out, c.AdID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Stats(_ context.Context, adID string, dayStart time.Time) (*domain.AdStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &domain.AdStats{AdID: adID, TotalSpend: decimal.Zero, TodaySpend: decimal.Zero}
	for _, c := range s.clicks {
		if c.AdID != adID {
			continue
		}
		today := !c.ClickedAt.Before(dayStart)
		st.TotalClicks++
		if today {
			st.TodayClicks++
		}
		if c.Billed {
			st.BilledClicks++
			st.TotalSpend = st.TotalSpend.Add(c.ChargedAmount)
			if today {
				st.TodaySpend = st.TodaySpend.Add(c.ChargedAmount)
			}
		}
	}
	return st, nil
}

// Clicks 返回某广告的全部点击记录，按写入顺序
func (s *Store) Clicks(adID string) []domain.ClickEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ClickEvent
	for _, c := range s.clicks {
		if c.AdID == adID {
			out = append(out, c)
		}
	}
	return out
}

// ---- ChargeRecorder ----

func (s *Store) RecordCharge(_ context.Context, entry domain.ChargeEntry) (*domain.ChargeReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ad, ok := s.ads[entry.Click.AdID]
	if !ok {
		return nil, domain.ErrAdNotFound
	}
	// 先做全部条件检查，确认都能成功后再落任何变更
	if !ad.State.IsActive() {
		return nil, domain.ErrAdNotServing
	}
	if ad.RemainingClickBudget <= 0 {
		return nil, domain.ErrBudgetExhausted
	}
	w, ok := s.wallets[ad.SellerID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	if w.Balance.LessThan(entry.Amount) {
		return nil, domain.ErrInsufficientFunds
	}

	tx, err := s.debitLocked(ad.SellerID, ad.ID, entry.Amount, "ad click charge")
	if err != nil {
		return nil, err
	}
	remaining, state, err := s.decrementLocked(ad.ID, entry.Click.ClickedAt)
	if err != nil {
		return nil, err
	}
	s.clicks = append(s.clicks, entry.Click)
	return &domain.ChargeReceipt{
		BalanceAfter:   tx.BalanceAfter,
		RemainingAfter: remaining,
		State:          state,
		Transaction:    tx,
	}, nil
}

func (s *Store) RecordDecline(_ context.Context, entry domain.DeclineEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paused := false
	if entry.Pause != domain.PauseReasonNone {
		if ad, ok := s.ads[entry.Click.AdID]; ok && ad.State.IsActive() {
			ad.State = domain.Paused(entry.Pause)
			ad.UpdatedAt = entry.Click.ClickedAt
			paused = true
		}
	}
	s.clicks = append(s.clicks, entry.Click)
	return paused, nil
}
