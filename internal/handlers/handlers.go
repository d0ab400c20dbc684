package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/mkamenev/clubgate-bot/internal/billing"
	"github.com/mkamenev/clubgate-bot/internal/contextkeys"
	"github.com/mkamenev/clubgate-bot/internal/gateway"
	"github.com/mkamenev/clubgate-bot/internal/messages"
	"github.com/mkamenev/clubgate-bot/types"
)

type Handlers struct {
	ledger    types.LedgerStore
	billing   *billing.Service
	isAdmin   func(int64) bool
	trialDays int
	log       *zap.SugaredLogger
}

func NewHandlers(ledger types.LedgerStore, billingSvc *billing.Service, isAdmin func(int64) bool, trialDays int, log *zap.SugaredLogger) *Handlers {
	return &Handlers{
		ledger:    ledger,
		billing:   billingSvc,
		isAdmin:   isAdmin,
		trialDays: trialDays,
		log:       log,
	}
}

func (h *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	userID, ok := contextkeys.GetUserID(ctx)
	if !ok || update.Message == nil {
		return
	}

	command, _ := contextkeys.GetCommand(ctx)
	args := strings.Fields(update.Message.Text)
	if len(args) > 0 {
		args = args[1:]
	}

	switch command {
	case "/start":
		h.send(ctx, b, userID, messages.StartWelcome(h.trialDays))
	case "/status":
		h.handleStatus(ctx, b, userID)
	case "/buy":
		h.handleBuy(ctx, b, userID, args)
	case "/promo":
		h.handlePromo(ctx, b, userID, args)
	case "/autorenew":
		h.handleAutoRenew(ctx, b, userID, args)
	case "/gencodes":
		h.handleGenCodes(ctx, b, userID, args)
	case "/addtime":
		h.handleAddTime(ctx, b, userID, args)
	case "/bypass":
		h.handleBypass(ctx, b, userID, args)
	case "/trial":
		h.handleTrial(ctx, b, userID, args)
	default:
		h.send(ctx, b, userID, messages.ErrorUnknownCommand())
	}
}

func (h *Handlers) handleStatus(ctx context.Context, b *bot.Bot, userID int64) {
	u, err := h.ledger.GetUser(userID)
	if err != nil {
		h.log.Errorf("status for user %d: %v", userID, err)
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	h.send(ctx, b, userID, messages.SubscriptionStatus(u.ExpiresAt, u.AutoRenew, time.Now().UTC()))
}

func (h *Handlers) handleBuy(ctx context.Context, b *bot.Bot, userID int64, args []string) {
	months := 1
	if len(args) > 0 {
		if n, ok := parseInt(args[0]); ok && n > 0 && n <= 12 {
			months = n
		}
	}

	p, reused, err := h.billing.Purchase(ctx, userID, months)
	if err != nil {
		h.log.Errorf("purchase for user %d: %v", userID, err)
		h.send(ctx, b, userID, purchaseErrorText(err))
		return
	}
	if reused {
		h.send(ctx, b, userID, messages.CheckoutPending(p.CheckoutURL))
		return
	}
	h.send(ctx, b, userID, messages.CheckoutLink(p.CheckoutURL, p.Months))
}

// purchaseErrorText maps the gateway error taxonomy onto user-facing
// text: business rejections carry the gateway message, transport
// failures stay generic.
func purchaseErrorText(err error) string {
	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) {
		return messages.PurchaseFailedGateway(gwErr.Message)
	}
	var trErr *gateway.TransportError
	if errors.As(err, &trErr) {
		return messages.PurchaseFailedTransport()
	}
	return messages.ErrorDefault()
}

func (h *Handlers) handlePromo(ctx context.Context, b *bot.Bot, userID int64, args []string) {
	if len(args) == 0 {
		h.send(ctx, b, userID, messages.PromoUsage())
		return
	}

	days, newExpiry, err := h.billing.RedeemPromo(userID, args[0], time.Now().UTC())
	if errors.Is(err, types.ErrPromoNotRedeemable) {
		h.send(ctx, b, userID, messages.PromoInvalid())
		return
	}
	if err != nil {
		h.log.Errorf("promo redemption for user %d: %v", userID, err)
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	h.send(ctx, b, userID, messages.PromoRedeemed(days, newExpiry))
}

func (h *Handlers) handleAutoRenew(ctx context.Context, b *bot.Bot, userID int64, args []string) {
	v := true
	if len(args) > 0 && (args[0] == "off" || args[0] == "0") {
		v = false
	}
	if err := h.ledger.SetAutoRenew(userID, v); err != nil {
		h.log.Errorf("set auto_renew for user %d: %v", userID, err)
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	u, err := h.ledger.GetUser(userID)
	if err != nil {
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	h.send(ctx, b, userID, messages.SubscriptionStatus(u.ExpiresAt, u.AutoRenew, time.Now().UTC()))
}

func (h *Handlers) send(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		h.log.Warnf("send message to %d: %v", chatID, err)
	}
}
