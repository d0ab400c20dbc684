package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mkamenev/clubgate-bot/internal/billing"
	"github.com/mkamenev/clubgate-bot/internal/config"
	"github.com/mkamenev/clubgate-bot/internal/gateway"
	"github.com/mkamenev/clubgate-bot/internal/handlers"
	"github.com/mkamenev/clubgate-bot/internal/logger"
	"github.com/mkamenev/clubgate-bot/internal/middleware"
	"github.com/mkamenev/clubgate-bot/internal/notify"
	"github.com/mkamenev/clubgate-bot/internal/sweeper"
	"github.com/mkamenev/clubgate-bot/internal/webhook"
	"github.com/mkamenev/clubgate-bot/store"
)

func main() {
	cfg, err := config.Load("config.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	rdb, err := store.NewRedisClient(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB, "clubgate")
	if err != nil {
		lg.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	pendingStore := store.NewRedisPendingStore(rdb, cfg.PendingTTLHours)

	ledger, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		lg.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer ledger.Close()

	gw, err := gateway.NewClient(gateway.Config{
		TerminalKey: cfg.TerminalKey,
		Password:    cfg.TerminalPassword,
		BaseURL:     cfg.GatewayBaseURL,
		BearerToken: cfg.GatewayBearerToken,
	})
	if err != nil {
		lg.Fatalf("Failed to create gateway client: %v", err)
	}

	b, err := bot.New(cfg.BotToken)
	if err != nil {
		lg.Fatalf("Failed to create bot: %v", err)
	}

	notifier := notify.NewTelegramNotifier(b)
	membership := notify.NewTelegramMembership(b)

	billingSvc := billing.NewService(ledger, gw, pendingStore, cfg.PriceKopeks, cfg.NotificationURL, lg)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		lg.Warnf("Invalid timezone %q, using UTC", cfg.Timezone)
		loc = time.UTC
	}

	expirySweeper := sweeper.NewSweeper(ledger, notifier, membership, lg, sweeper.Config{
		ChannelID: cfg.ChannelID,
		Hour:      cfg.SweepHour,
		Location:  loc,
	})
	expirySweeper.Start()
	defer expirySweeper.Stop()

	gin.SetMode(gin.ReleaseMode)
	webhookServer := webhook.NewServer(ledger, notifier, pendingStore, lg)
	httpServer := &http.Server{
		Addr:    cfg.WebhookAddr,
		Handler: webhookServer.Router(cfg.WebhookPath),
	}
	go func() {
		lg.Infof("Webhook server listening on %s%s", cfg.WebhookAddr, cfg.WebhookPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Errorf("Webhook server: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			lg.Errorf("Webhook server shutdown: %v", err)
		}
	}()

	middlewares := middleware.NewMiddlewares(ledger, cfg.TrialDays, cfg.AutoRenewDefault, lg)
	h := handlers.NewHandlers(ledger, billingSvc, cfg.IsAdmin, cfg.TrialDays, lg)

	handlerChain := middlewares.RegisterUserMiddleware(
		middlewares.ClassifyCommandMiddleware(
			h.MainHandler,
		),
	)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, handlerChain)

	lg.Infof("Bot started. Press Ctrl+C to stop.")
	b.Start(ctx)
}
