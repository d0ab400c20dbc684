package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mkamenev/clubgate-bot/internal/gateway"
	"github.com/mkamenev/clubgate-bot/types"
	"go.uber.org/zap"
)

// PaymentGateway is the slice of the gateway client the service needs.
type PaymentGateway interface {
	Init(ctx context.Context, req gateway.InitRequest) (*gateway.GatewaySession, error)
}

// Service orchestrates purchases and promo redemptions. The gateway
// call always happens before the ledger write; no store transaction
// ever waits on the network.
type Service struct {
	ledger      types.LedgerStore
	gateway     PaymentGateway
	pending     types.PendingStore
	priceKopeks int64
	notifyURL   string
	log         *zap.SugaredLogger
}

func NewService(ledger types.LedgerStore, gw PaymentGateway, pending types.PendingStore, priceKopeks int64, notifyURL string, log *zap.SugaredLogger) *Service {
	return &Service{
		ledger:      ledger,
		gateway:     gw,
		pending:     pending,
		priceKopeks: priceKopeks,
		notifyURL:   notifyURL,
		log:         log,
	}
}

// Purchase opens a gateway checkout for months of subscription and
// records the INIT payment. If the user already has a live pending
// checkout it is returned instead of opening a second session.
func (s *Service) Purchase(ctx context.Context, userID int64, months int) (*types.PendingPurchase, bool, error) {
	if months < 1 {
		months = 1
	}

	if p, err := s.pending.GetPending(userID); err != nil {
		s.log.Warnf("billing: read pending purchase for user %d: %v", userID, err)
	} else if p != nil {
		return p, true, nil
	}

	amount := s.priceKopeks * int64(months)
	orderID := uuid.NewString()

	session, err := s.gateway.Init(ctx, gateway.InitRequest{
		Amount:          uint64(amount),
		OrderID:         orderID,
		Description:     fmt.Sprintf("Подписка на %d мес.", months),
		CustomerKey:     fmt.Sprintf("%d", userID),
		NotificationURL: s.notifyURL,
		Data:            map[string]string{"user_id": fmt.Sprintf("%d", userID)},
	})
	if err != nil {
		return nil, false, err
	}

	if err := s.ledger.RecordPayment(session.PaymentID, userID, months, amount); err != nil {
		return nil, false, fmt.Errorf("record payment %s: %w", session.PaymentID, err)
	}

	p := &types.PendingPurchase{
		PaymentID:   session.PaymentID,
		Months:      months,
		Amount:      amount,
		CheckoutURL: session.CheckoutURL,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.pending.SavePending(userID, p); err != nil {
		s.log.Warnf("billing: save pending purchase for user %d: %v", userID, err)
	}
	return p, false, nil
}

// RedeemPromo redeems the code for the user and extends the
// subscription by the code's extension days.
func (s *Service) RedeemPromo(userID int64, code string, now time.Time) (int, time.Time, error) {
	promo, err := s.ledger.RedeemPromoCode(code, userID, now)
	if err != nil {
		return 0, time.Time{}, err
	}
	newExpiry, err := s.ledger.ExtendSubscriptionDays(userID, promo.ExtensionDays, now)
	if err != nil {
		return 0, time.Time{}, err
	}
	return promo.ExtensionDays, newExpiry, nil
}

func (s *Service) GenerateCodes(codeType string, amount, extensionDays int, expiresAt *time.Time, usageLimit int) ([]string, error) {
	return s.ledger.GeneratePromoCodes(codeType, amount, extensionDays, expiresAt, usageLimit)
}
