package messages

import (
	"fmt"
	"strings"
	"time"
)

const ParseModeHTML = "HTML"

const dateLayout = "02.01.2006 15:04"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func formatUntil(t time.Time) string {
	return t.Format(dateLayout)
}

func ErrorDefault() string {
	return "🚫 <b>Ошибка</b>\nПопробуйте ещё раз."
}

func ErrorUnknownCommand() string {
	return "❓ <b>Команда не найдена</b>"
}

func StartWelcome(trialDays int) string {
	return "👋 <b>Привет!</b>\nЭто бот закрытого клуба.\n\n" +
		fmt.Sprintf("🎁 Пробный доступ: <b>%d дн.</b>\n", trialDays) +
		"💳 /buy — оформить подписку\n" +
		"🎟 /promo КОД — активировать промокод\n" +
		"📋 /status — статус подписки"
}

func SubscriptionStatus(expiresAt time.Time, autoRenew bool, now time.Time) string {
	state := "✅ <b>Подписка активна</b>"
	if expiresAt.Before(now) {
		state = "⛔️ <b>Подписка истекла</b>"
	}
	renew := "выключено"
	if autoRenew {
		renew = "включено"
	}
	return state +
		fmt.Sprintf("\n📅 До: <b>%s</b>", formatUntil(expiresAt)) +
		fmt.Sprintf("\n🔄 Автопродление: %s", renew)
}

func CheckoutLink(url string, months int) string {
	return fmt.Sprintf("💳 <b>Оплата подписки на %d мес.</b>\nПерейдите по ссылке для оплаты:\n%s", months, Escape(url))
}

func CheckoutPending(url string) string {
	return "⏳ <b>У вас уже есть неоплаченный счёт</b>\nСсылка для оплаты:\n" + Escape(url)
}

func PurchaseFailedGateway(message string) string {
	msg := "🚫 <b>Платёж отклонён</b>"
	if strings.TrimSpace(message) != "" {
		msg += "\n<code>" + Escape(message) + "</code>"
	}
	return msg
}

func PurchaseFailedTransport() string {
	return "🚫 <b>Платёжный сервис недоступен</b>\nПопробуйте позже."
}

func PaymentConfirmed(until time.Time) string {
	return fmt.Sprintf("✅ <b>Оплата получена!</b>\nПодписка действует до <b>%s</b>.", formatUntil(until))
}

func RenewalNotice(until time.Time) string {
	return fmt.Sprintf("🔄 <b>Подписка продлена</b>\nСледующее списание: <b>%s</b>.", formatUntil(until))
}

func AccessLapsed() string {
	return "⛔️ <b>Подписка закончилась</b>\nДоступ к каналу закрыт. Оформите подписку заново: /buy"
}

func PromoRedeemed(days int, until time.Time) string {
	return fmt.Sprintf("🎟 <b>Промокод активирован</b>\n+%d дн., подписка до <b>%s</b>.", days, formatUntil(until))
}

func PromoInvalid() string {
	return "🚫 <b>Промокод не действует</b>\nПроверьте код: он мог истечь или быть использован."
}

func PromoUsage() string {
	return "🎟 Использование: <code>/promo КОД</code>"
}

func NotAdmin() string {
	return "🚫 Команда доступна только администраторам."
}

func CodesGenerated(codes []string, days int) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "🎟 <b>Промокоды (+%d дн.):</b>\n", days)
	for _, code := range codes {
		fmt.Fprintf(b, "<code>%s</code>\n", code)
	}
	return strings.TrimRight(b.String(), "\n")
}

func TimeAdded(userID int64, until time.Time) string {
	return fmt.Sprintf("➕ Пользователю <code>%d</code> добавлено время, подписка до <b>%s</b>.", userID, formatUntil(until))
}

func TrialGranted(userID int64, days int) string {
	return fmt.Sprintf("🎁 Пользователю <code>%d</code> выдан пробный доступ на <b>%d дн.</b>", userID, days)
}

func UserNotFound(userID int64) string {
	return fmt.Sprintf("🚫 Пользователь <code>%d</code> не найден.", userID)
}
