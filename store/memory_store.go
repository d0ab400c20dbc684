package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mkamenev/clubgate-bot/types"
)

// MemoryStore is a mutex-guarded LedgerStore with the same semantics as
// PostgresStore. It backs tests and local runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[int64]*types.User
	promos   map[string]*types.PromoCode
	payments map[string]*types.Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]*types.User),
		promos:   make(map[string]*types.PromoCode),
		payments: make(map[string]*types.Payment),
	}
}

func (s *MemoryStore) RegisterUser(userID int64, username string, now time.Time, trialDays int, autoRenew, paidOnly, bypass bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; ok {
		return false, nil
	}
	s.users[userID] = &types.User{
		UserID:    userID,
		Username:  strings.TrimSpace(username),
		StartedAt: now,
		ExpiresAt: trialWindow(now, trialDays, paidOnly),
		AutoRenew: autoRenew,
		PaidOnly:  paidOnly,
		Bypass:    bypass,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

func (s *MemoryStore) GetUser(userID int64) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, types.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) SetAutoRenew(userID int64, v bool) error {
	return s.setFlag(userID, func(u *types.User) { u.AutoRenew = v })
}

func (s *MemoryStore) SetPaidOnly(userID int64, v bool) error {
	return s.setFlag(userID, func(u *types.User) { u.PaidOnly = v })
}

func (s *MemoryStore) SetBypass(userID int64, v bool) error {
	return s.setFlag(userID, func(u *types.User) { u.Bypass = v })
}

func (s *MemoryStore) setFlag(userID int64, apply func(*types.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return types.ErrUserNotFound
	}
	apply(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ExtendSubscription(userID int64, months int, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extendLocked(userID, time.Duration(months)*types.SubscriptionDuration, now)
}

func (s *MemoryStore) ExtendSubscriptionDays(userID int64, days int, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extendLocked(userID, time.Duration(days)*24*time.Hour, now)
}

func (s *MemoryStore) extendLocked(userID int64, d time.Duration, now time.Time) (time.Time, error) {
	u, ok := s.users[userID]
	if !ok {
		return time.Time{}, types.ErrUserNotFound
	}
	base := now
	if u.ExpiresAt.After(base) {
		base = u.ExpiresAt
	}
	u.ExpiresAt = base.Add(d)
	u.UpdatedAt = now
	return u.ExpiresAt, nil
}

func (s *MemoryStore) SetTrialPeriod(userID int64, username string, now time.Time, trialDays int, autoRenew bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = &types.User{UserID: userID, CreatedAt: now}
		s.users[userID] = u
	}
	if username = strings.TrimSpace(username); username != "" {
		u.Username = username
	}
	u.StartedAt = now
	u.ExpiresAt = now.Add(time.Duration(trialDays) * 24 * time.Hour)
	u.AutoRenew = autoRenew
	u.PaidOnly = false
	u.UpdatedAt = now
	return nil
}

func (s *MemoryStore) GeneratePromoCodes(codeType string, amount, extensionDays int, expiresAt *time.Time, usageLimit int) ([]string, error) {
	if usageLimit < 1 {
		usageLimit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make([]string, 0, amount)
	for len(codes) < amount {
		inserted := false
		for attempt := 0; attempt < promoCodeMaxAttempts; attempt++ {
			code, err := randomPromoCode()
			if err != nil {
				return codes, err
			}
			if _, exists := s.promos[code]; exists {
				continue
			}
			s.promos[code] = &types.PromoCode{
				Code:          code,
				CodeType:      strings.TrimSpace(codeType),
				ExtensionDays: extensionDays,
				ExpiresAt:     expiresAt,
				UsageLimit:    usageLimit,
				CreatedAt:     time.Now().UTC(),
			}
			codes = append(codes, code)
			inserted = true
			break
		}
		if !inserted {
			return codes, fmt.Errorf("promo code space exhausted after %d attempts", promoCodeMaxAttempts)
		}
	}
	return codes, nil
}

func (s *MemoryStore) ValidatePromoCode(code string, now time.Time) (*types.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[canonicalCode(code)]
	if !ok || !promoRedeemable(p, now) {
		return nil, types.ErrPromoNotRedeemable
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) RedeemPromoCode(code string, userID int64, now time.Time) (*types.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[canonicalCode(code)]
	if !ok || !promoRedeemable(p, now) {
		return nil, types.ErrPromoNotRedeemable
	}
	p.UsedCount++
	p.IsUsed = p.UsedCount >= p.UsageLimit
	p.RedeemedBy = &userID
	redeemedAt := now
	p.RedeemedAt = &redeemedAt
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) RecordPayment(paymentID string, userID int64, months int, amount int64) error {
	paymentID = strings.TrimSpace(paymentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[paymentID]; ok {
		return types.ErrDuplicatePayment
	}
	now := time.Now().UTC()
	s.payments[paymentID] = &types.Payment{
		PaymentID: paymentID,
		UserID:    &userID,
		Months:    months,
		Amount:    amount,
		Status:    types.PaymentStatusInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *MemoryStore) GetPaymentByID(paymentID string) (*types.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[strings.TrimSpace(paymentID)]
	if !ok {
		return nil, types.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SetPaymentStatus(paymentID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[strings.TrimSpace(paymentID)]
	if !ok {
		return types.ErrPaymentNotFound
	}
	p.Status = strings.TrimSpace(status)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ApplySettlement(paymentID, status string, now time.Time) (*types.SettlementResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	status = strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		orphan := &types.Payment{
			PaymentID: paymentID,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.payments[paymentID] = orphan
		cp := *orphan
		return &types.SettlementResult{Payment: &cp, Known: false}, nil
	}

	prev := p.Status
	p.Status = status
	p.UpdatedAt = now

	cp := *p
	res := &types.SettlementResult{Payment: &cp, Known: true}

	if types.ExtendOnTransition(prev, status) && p.UserID != nil {
		newExpires, err := s.extendLocked(*p.UserID, time.Duration(p.Months)*types.SubscriptionDuration, now)
		if err == nil {
			s.users[*p.UserID].PaidOnly = false
			res.Extended = true
			res.NewExpiry = newExpires
		}
	}
	return res, nil
}

func (s *MemoryStore) ListExpired(now time.Time) ([]*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]*types.User, 0)
	for _, u := range s.users {
		if u.Bypass || !u.ExpiresAt.Before(now) {
			continue
		}
		cp := *u
		users = append(users, &cp)
	}
	return users, nil
}
