package notify

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/mkamenev/clubgate-bot/internal/messages"
)

// TelegramNotifier delivers user messages over the bot API.
type TelegramNotifier struct {
	b *bot.Bot
}

func NewTelegramNotifier(b *bot.Bot) *TelegramNotifier {
	return &TelegramNotifier{b: b}
}

func (n *TelegramNotifier) Notify(ctx context.Context, userID int64, text string) error {
	_, err := n.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    userID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	return err
}

// TelegramMembership controls access to the gated channel through
// ban/unban: revoking kicks the user out, restoring lifts the ban so a
// future paid re-entry is possible.
type TelegramMembership struct {
	b *bot.Bot
}

func NewTelegramMembership(b *bot.Bot) *TelegramMembership {
	return &TelegramMembership{b: b}
}

func (m *TelegramMembership) RevokeAccess(ctx context.Context, chatID, userID int64) error {
	_, err := m.b.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	})
	return err
}

func (m *TelegramMembership) RestoreEligibility(ctx context.Context, chatID, userID int64) error {
	_, err := m.b.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID:       chatID,
		UserID:       userID,
		OnlyIfBanned: true,
	})
	return err
}
