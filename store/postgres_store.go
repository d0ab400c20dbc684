package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mkamenev/clubgate-bot/types"
	"github.com/pressly/goose/v3"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

const promoCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const promoCodeLength = 10
const promoCodeMaxAttempts = 100

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = buildPostgresDSNFromEnv()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildPostgresDSNFromEnv() string {
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("POSTGRES_PORT"))
	if port == "" {
		port = "5432"
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		db = "clubgate"
	}
	user := strings.TrimSpace(os.Getenv("POSTGRES_USER"))
	if user == "" {
		user = "clubgate"
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", urlEscape(user), urlEscape(pass), host, port, db)
}

func urlEscape(s string) string {
	r := strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"/", "%2F",
		"@", "%40",
		"?", "%3F",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
	)
	return r.Replace(s)
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func trialWindow(now time.Time, trialDays int, paidOnly bool) time.Time {
	if paidOnly {
		return now.Add(30 * 24 * time.Hour)
	}
	return now.Add(time.Duration(trialDays) * 24 * time.Hour)
}

func (s *PostgresStore) RegisterUser(userID int64, username string, now time.Time, trialDays int, autoRenew, paidOnly, bypass bool) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO users (user_id, username, started_at, expires_at, auto_renew, paid_only, bypass)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO NOTHING
`, userID, strings.TrimSpace(username), now, trialWindow(now, trialDays, paidOnly), autoRenew, paidOnly, bypass)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetUser(userID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var u types.User
	err := s.pool.QueryRow(ctx, `
SELECT user_id, username, started_at, expires_at, auto_renew, paid_only, bypass, created_at, updated_at
FROM users
WHERE user_id = $1
`, userID).Scan(&u.UserID, &u.Username, &u.StartedAt, &u.ExpiresAt, &u.AutoRenew, &u.PaidOnly, &u.Bypass, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) setUserFlag(column string, userID int64, v bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
UPDATE users SET %s = $2, updated_at = NOW() WHERE user_id = $1
`, column), userID, v)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) SetAutoRenew(userID int64, v bool) error {
	return s.setUserFlag("auto_renew", userID, v)
}

func (s *PostgresStore) SetPaidOnly(userID int64, v bool) error {
	return s.setUserFlag("paid_only", userID, v)
}

func (s *PostgresStore) SetBypass(userID int64, v bool) error {
	return s.setUserFlag("bypass", userID, v)
}

func (s *PostgresStore) ExtendSubscription(userID int64, months int, now time.Time) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	newExpires, err := extendUserTx(ctx, tx, userID, time.Duration(months)*types.SubscriptionDuration, now)
	if err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, err
	}
	return newExpires, nil
}

func (s *PostgresStore) ExtendSubscriptionDays(userID int64, days int, now time.Time) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	newExpires, err := extendUserTx(ctx, tx, userID, time.Duration(days)*24*time.Hour, now)
	if err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, err
	}
	return newExpires, nil
}

// extendUserTx moves expires_at to max(expires_at, now) + d inside the
// caller's transaction. The row stays locked until commit.
func extendUserTx(ctx context.Context, tx pgx.Tx, userID int64, d time.Duration, now time.Time) (time.Time, error) {
	var currentExpires time.Time
	err := tx.QueryRow(ctx, `
SELECT expires_at
FROM users
WHERE user_id = $1
FOR UPDATE
`, userID).Scan(&currentExpires)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, types.ErrUserNotFound
	}
	if err != nil {
		return time.Time{}, err
	}

	base := now
	if currentExpires.After(base) {
		base = currentExpires
	}
	newExpires := base.Add(d)

	_, err = tx.Exec(ctx, `
UPDATE users SET expires_at = $2, updated_at = NOW() WHERE user_id = $1
`, userID, newExpires)
	if err != nil {
		return time.Time{}, err
	}
	return newExpires, nil
}

func (s *PostgresStore) SetTrialPeriod(userID int64, username string, now time.Time, trialDays int, autoRenew bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	expires := now.Add(time.Duration(trialDays) * 24 * time.Hour)
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (user_id, username, started_at, expires_at, auto_renew, paid_only)
VALUES ($1, $2, $3, $4, $5, FALSE)
ON CONFLICT (user_id) DO UPDATE SET
  started_at = EXCLUDED.started_at,
  expires_at = EXCLUDED.expires_at,
  auto_renew = EXCLUDED.auto_renew,
  paid_only = FALSE,
  updated_at = NOW()
`, userID, strings.TrimSpace(username), now, expires, autoRenew)
	return err
}

func randomPromoCode() (string, error) {
	b := make([]byte, promoCodeLength)
	alphabetLen := big.NewInt(int64(len(promoCodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b[i] = promoCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) GeneratePromoCodes(codeType string, amount, extensionDays int, expiresAt *time.Time, usageLimit int) ([]string, error) {
	if usageLimit < 1 {
		usageLimit = 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	codes := make([]string, 0, amount)
	for len(codes) < amount {
		inserted := false
		for attempt := 0; attempt < promoCodeMaxAttempts; attempt++ {
			code, err := randomPromoCode()
			if err != nil {
				return codes, err
			}
			_, err = s.pool.Exec(ctx, `
INSERT INTO promo_codes (code, code_type, extension_days, expires_at, usage_limit)
VALUES ($1, $2, $3, $4, $5)
`, code, strings.TrimSpace(codeType), extensionDays, expiresAt, usageLimit)
			if isUniqueViolation(err) {
				continue
			}
			if err != nil {
				return codes, err
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

func (s *PostgresStore) ValidatePromoCode(code string, now time.Time) (*types.PromoCode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var p types.PromoCode
	err := s.pool.QueryRow(ctx, `
SELECT code, code_type, extension_days, expires_at, usage_limit, used_count, is_used, redeemed_by, redeemed_at, created_at
FROM promo_codes
WHERE code = $1
`, canonicalCode(code)).Scan(&p.Code, &p.CodeType, &p.ExtensionDays, &p.ExpiresAt, &p.UsageLimit, &p.UsedCount, &p.IsUsed, &p.RedeemedBy, &p.RedeemedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrPromoNotRedeemable
	}
	if err != nil {
		return nil, err
	}
	if !promoRedeemable(&p, now) {
		return nil, types.ErrPromoNotRedeemable
	}
	return &p, nil
}

func canonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func promoRedeemable(p *types.PromoCode, now time.Time) bool {
	if p.IsUsed || p.UsedCount >= p.UsageLimit {
		return false
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
		return false
	}
	return true
}

func (s *PostgresStore) RedeemPromoCode(code string, userID int64, now time.Time) (*types.PromoCode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var p types.PromoCode
	// The usage-limit check and the increment are one statement, so the
	// limit holds under concurrent redeemers.
	err := s.pool.QueryRow(ctx, `
UPDATE promo_codes
SET used_count = used_count + 1,
    is_used = used_count + 1 >= usage_limit,
    redeemed_by = $2,
    redeemed_at = $3
WHERE code = $1
  AND used_count < usage_limit
  AND (expires_at IS NULL OR expires_at >= $3)
RETURNING code, code_type, extension_days, expires_at, usage_limit, used_count, is_used, redeemed_by, redeemed_at, created_at
`, canonicalCode(code), userID, now).Scan(&p.Code, &p.CodeType, &p.ExtensionDays, &p.ExpiresAt, &p.UsageLimit, &p.UsedCount, &p.IsUsed, &p.RedeemedBy, &p.RedeemedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrPromoNotRedeemable
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) RecordPayment(paymentID string, userID int64, months int, amount int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO payments (payment_id, user_id, months, amount, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (payment_id) DO NOTHING
`, strings.TrimSpace(paymentID), userID, months, amount, types.PaymentStatusInit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrDuplicatePayment
	}
	return nil
}

func (s *PostgresStore) GetPaymentByID(paymentID string) (*types.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var p types.Payment
	err := s.pool.QueryRow(ctx, `
SELECT payment_id, user_id, months, amount, status, created_at, updated_at
FROM payments
WHERE payment_id = $1
`, strings.TrimSpace(paymentID)).Scan(&p.PaymentID, &p.UserID, &p.Months, &p.Amount, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) SetPaymentStatus(paymentID, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE payments SET status = $2, updated_at = NOW() WHERE payment_id = $1
`, strings.TrimSpace(paymentID), strings.TrimSpace(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrPaymentNotFound
	}
	return nil
}

func (s *PostgresStore) ApplySettlement(paymentID, status string, now time.Time) (*types.SettlementResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	status = strings.TrimSpace(status)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var p types.Payment
	err = tx.QueryRow(ctx, `
SELECT payment_id, user_id, months, amount, status, created_at, updated_at
FROM payments
WHERE payment_id = $1
FOR UPDATE
`, paymentID).Scan(&p.PaymentID, &p.UserID, &p.Months, &p.Amount, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Orphan notification: keep the reported status for forensics.
		_, err = tx.Exec(ctx, `
INSERT INTO payments (payment_id, user_id, months, amount, status)
VALUES ($1, NULL, 0, 0, $2)
ON CONFLICT (payment_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
`, paymentID, status)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &types.SettlementResult{
			Payment: &types.Payment{PaymentID: paymentID, Status: status},
			Known:   false,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	prev := p.Status
	_, err = tx.Exec(ctx, `
UPDATE payments SET status = $2, updated_at = NOW() WHERE payment_id = $1
`, paymentID, status)
	if err != nil {
		return nil, err
	}
	p.Status = status

	res := &types.SettlementResult{Payment: &p, Known: true}

	if types.ExtendOnTransition(prev, status) && p.UserID != nil {
		newExpires, err := extendUserTx(ctx, tx, *p.UserID, time.Duration(p.Months)*types.SubscriptionDuration, now)
		if errors.Is(err, types.ErrUserNotFound) {
			// Payment references a user we no longer track; the status
			// is still persisted.
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
UPDATE users SET paid_only = FALSE, updated_at = NOW() WHERE user_id = $1
`, *p.UserID)
		if err != nil {
			return nil, err
		}
		res.Extended = true
		res.NewExpiry = newExpires
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *PostgresStore) ListExpired(now time.Time) ([]*types.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT user_id, username, started_at, expires_at, auto_renew, paid_only, bypass, created_at, updated_at
FROM users
WHERE expires_at < $1 AND NOT bypass
ORDER BY user_id
`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*types.User, 0)
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.UserID, &u.Username, &u.StartedAt, &u.ExpiresAt, &u.AutoRenew, &u.PaidOnly, &u.Bypass, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}
