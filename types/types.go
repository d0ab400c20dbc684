package types

import "time"

// User is one member of the gated channel. A row is created on first
// contact and never deleted; access is controlled through the
// subscription window and flags only.
type User struct {
	UserID    int64
	Username  string
	StartedAt time.Time
	ExpiresAt time.Time
	AutoRenew bool
	PaidOnly  bool
	Bypass    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PromoCode struct {
	Code          string
	CodeType      string
	ExtensionDays int
	ExpiresAt     *time.Time
	UsageLimit    int
	UsedCount     int
	IsUsed        bool
	RedeemedBy    *int64
	RedeemedAt    *time.Time
	CreatedAt     time.Time
}

// Payment correlates a gateway transaction to a subscription mutation.
// UserID is nil for orphan notifications: status pushes about payments
// we never initiated are still recorded for forensics.
type Payment struct {
	PaymentID string
	UserID    *int64
	Months    int
	Amount    int64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SettlementResult reports what a single gateway notification did to
// the ledger.
type SettlementResult struct {
	Payment   *Payment
	Known     bool
	Extended  bool
	NewExpiry time.Time
}

// PendingPurchase is the transient checkout session kept in Redis
// between Init and the gateway notification.
type PendingPurchase struct {
	PaymentID   string    `json:"payment_id"`
	Months      int       `json:"months"`
	Amount      int64     `json:"amount"`
	CheckoutURL string    `json:"checkout_url"`
	CreatedAt   time.Time `json:"created_at"`
}
