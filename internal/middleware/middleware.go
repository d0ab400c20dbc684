package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/mkamenev/clubgate-bot/internal/contextkeys"
	"github.com/mkamenev/clubgate-bot/internal/messages"
	"github.com/mkamenev/clubgate-bot/types"
)

type Middlewares struct {
	ledger           types.LedgerStore
	trialDays        int
	autoRenewDefault bool
	log              *zap.SugaredLogger
}

func NewMiddlewares(ledger types.LedgerStore, trialDays int, autoRenewDefault bool, log *zap.SugaredLogger) *Middlewares {
	return &Middlewares{
		ledger:           ledger,
		trialDays:        trialDays,
		autoRenewDefault: autoRenewDefault,
		log:              log,
	}
}

// RegisterUserMiddleware creates the ledger row on first contact with a
// trial window. Registration is insert-if-absent, so repeat updates
// from a known user change nothing.
func (m *Middlewares) RegisterUserMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		userID, username := senderFromUpdate(update)
		if userID == 0 {
			return
		}

		created, err := m.ledger.RegisterUser(userID, username, time.Now().UTC(), m.trialDays, m.autoRenewDefault, false, false)
		if err != nil {
			m.log.Errorf("register user %d: %v", userID, err)
			b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    userID,
				Text:      messages.ErrorDefault(),
				ParseMode: messages.ParseModeHTML,
			})
			return
		}
		if created {
			m.log.Infof("new user %d registered with %d trial days", userID, m.trialDays)
		}

		next(contextkeys.WithUserID(ctx, userID), b, update)
	}
}

// ClassifyCommandMiddleware stores the leading /command (bot mention
// stripped) in the context for the handler switch.
func (m *Middlewares) ClassifyCommandMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.Message != nil && strings.HasPrefix(update.Message.Text, "/") {
			cmd := strings.Fields(update.Message.Text)[0]
			if i := strings.Index(cmd, "@"); i > 0 {
				cmd = cmd[:i]
			}
			ctx = contextkeys.WithCommand(ctx, cmd)
		}
		next(ctx, b, update)
	}
}

func senderFromUpdate(update *models.Update) (int64, string) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID, update.Message.From.Username
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From.ID, update.CallbackQuery.From.Username
	default:
		return 0, ""
	}
}
