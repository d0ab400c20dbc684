package types

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrDuplicatePayment   = errors.New("duplicate payment id")
	ErrPromoNotRedeemable = errors.New("promo code not redeemable")
)

// SubscriptionDuration is the nominal length of one purchased month.
const SubscriptionDuration = 30 * 24 * time.Hour

// LedgerStore owns all durable subscription, promo and payment state.
// Every method is a single atomic operation; callers never read, compute
// and write back around it.
type LedgerStore interface {
	// RegisterUser creates the row if absent and reports whether it did.
	// An existing user is left untouched.
	RegisterUser(userID int64, username string, now time.Time, trialDays int, autoRenew, paidOnly, bypass bool) (created bool, err error)
	GetUser(userID int64) (*User, error)
	SetAutoRenew(userID int64, v bool) error
	SetPaidOnly(userID int64, v bool) error
	SetBypass(userID int64, v bool) error

	// ExtendSubscription moves expires_at to max(expires_at, now) plus
	// months of SubscriptionDuration and returns the new expiry.
	ExtendSubscription(userID int64, months int, now time.Time) (time.Time, error)
	// ExtendSubscriptionDays is the day-granular variant used by promo
	// code redemption.
	ExtendSubscriptionDays(userID int64, days int, now time.Time) (time.Time, error)
	SetTrialPeriod(userID int64, username string, now time.Time, trialDays int, autoRenew bool) error

	GeneratePromoCodes(codeType string, amount, extensionDays int, expiresAt *time.Time, usageLimit int) ([]string, error)
	ValidatePromoCode(code string, now time.Time) (*PromoCode, error)
	RedeemPromoCode(code string, userID int64, now time.Time) (*PromoCode, error)

	RecordPayment(paymentID string, userID int64, months int, amount int64) error
	GetPaymentByID(paymentID string) (*Payment, error)
	SetPaymentStatus(paymentID, status string) error

	// ApplySettlement maps one gateway notification onto the ledger:
	// persists the status, and on the extending transition (see
	// ExtendOnTransition) advances the user's expiry and clears
	// paid_only, all atomically with the status check.
	ApplySettlement(paymentID, status string, now time.Time) (*SettlementResult, error)

	ListExpired(now time.Time) ([]*User, error)
}

// Notifier delivers a message to a user. Failures are the caller's to
// log and ignore.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Membership controls channel access for the sweeper.
type Membership interface {
	RevokeAccess(ctx context.Context, chatID, userID int64) error
	RestoreEligibility(ctx context.Context, chatID, userID int64) error
}

// PendingStore keeps per-user checkout sessions with a TTL.
type PendingStore interface {
	SavePending(userID int64, p *PendingPurchase) error
	GetPending(userID int64) (*PendingPurchase, error)
	DeletePending(userID int64) error
}
