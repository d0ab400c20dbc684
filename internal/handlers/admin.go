package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-telegram/bot"

	"github.com/mkamenev/clubgate-bot/internal/messages"
	"github.com/mkamenev/clubgate-bot/types"
)

// /gencodes <amount> <days> [usage_limit]
func (h *Handlers) handleGenCodes(ctx context.Context, b *bot.Bot, userID int64, args []string) {
	if !h.isAdmin(userID) {
		h.send(ctx, b, userID, messages.NotAdmin())
		return
	}
	if len(args) < 2 {
		h.send(ctx, b, userID, messages.ErrorUnknownCommand())
		return
	}
	amount, okA := parseInt(args[0])
	days, okD := parseInt(args[1])
	if !okA || !okD || amount < 1 || amount > 100 || days < 1 {
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	usageLimit := 1
	if len(args) > 2 {
		if n, ok := parseInt(args[2]); ok && n >= 1 {
			usageLimit = n
		}
	}

	codes, err := h.billing.GenerateCodes(types.PromoTypeExtension, amount, days, nil, usageLimit)
	if err != nil {
		h.log.Errorf("generate %d promo codes: %v", amount, err)
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	h.send(ctx, b, userID, messages.CodesGenerated(codes, days))
}

// /addtime <user_id> <months>
func (h *Handlers) handleAddTime(ctx context.Context, b *bot.Bot, userID int64, args []string) {
	if !h.isAdmin(userID) {
		h.send(ctx, b, userID, messages.NotAdmin())
		return
	}
	if len(args) < 2 {
		h.send(ctx, b, userID, messages.ErrorUnknownCommand())
		return
	}
	target, okT := parseInt64(args[0])
	months, okM := parseInt(args[1])
	if !okT || !okM || months < 1 {
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}

	newExpiry, err := h.ledger.ExtendSubscription(target, months, time.Now().UTC())
	if errors.Is(err, types.ErrUserNotFound) {
		h.send(ctx, b, userID, messages.UserNotFound(target))
		return
	}
	if err != nil {
		h.log.Errorf("addtime for user %d: %v", target, err)
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	h.send(ctx, b, userID, messages.TimeAdded(target, newExpiry))
}

// /bypass <user_id> on|off
func (h *Handlers) handleBypass(ctx context.Context, b *bot.Bot, userID int64, args []string) {
	if !h.isAdmin(userID) {
		h.send(ctx, b, userID, messages.NotAdmin())
		return
	}
	if len(args) < 2 {
		h.send(ctx, b, userID, messages.ErrorUnknownCommand())
		return
	}
	target, ok := parseInt64(args[0])
	if !ok {
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	v := args[1] == "on" || args[1] == "1"

	err := h.ledger.SetBypass(target, v)
	if errors.Is(err, types.ErrUserNotFound) {
		h.send(ctx, b, userID, messages.UserNotFound(target))
		return
	}
	if err != nil {
		h.log.Errorf("set bypass for user %d: %v", target, err)
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	u, err := h.ledger.GetUser(target)
	if err != nil {
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	h.send(ctx, b, userID, messages.SubscriptionStatus(u.ExpiresAt, u.AutoRenew, time.Now().UTC()))
}

// /trial <user_id> [days]
func (h *Handlers) handleTrial(ctx context.Context, b *bot.Bot, userID int64, args []string) {
	if !h.isAdmin(userID) {
		h.send(ctx, b, userID, messages.NotAdmin())
		return
	}
	if len(args) < 1 {
		h.send(ctx, b, userID, messages.ErrorUnknownCommand())
		return
	}
	target, ok := parseInt64(args[0])
	if !ok {
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	days := h.trialDays
	if len(args) > 1 {
		if n, ok := parseInt(args[1]); ok && n >= 1 {
			days = n
		}
	}

	if err := h.ledger.SetTrialPeriod(target, "", time.Now().UTC(), days, false); err != nil {
		h.log.Errorf("grant trial for user %d: %v", target, err)
		h.send(ctx, b, userID, messages.ErrorDefault())
		return
	}
	h.send(ctx, b, userID, messages.TrialGranted(target, days))
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func parseInt64(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
