package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/digkill/buildgen/internal/api"
	"github.com/digkill/buildgen/internal/auth"
	"github.com/digkill/buildgen/internal/billing"
	"github.com/digkill/buildgen/internal/completion"
	"github.com/digkill/buildgen/internal/config"
	"github.com/digkill/buildgen/internal/database"
	"github.com/digkill/buildgen/internal/metrics"
	"github.com/digkill/buildgen/internal/notify"
	"github.com/digkill/buildgen/internal/ratelimit"
	"github.com/digkill/buildgen/internal/repository"
	"github.com/digkill/buildgen/internal/service"
	"github.com/digkill/buildgen/internal/storage"
	"github.com/digkill/buildgen/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	stores := service.Stores{
		Tx:            repository.NewTxManager(db),
		Accounts:      repository.NewAccountRepository(db),
		Projects:      repository.NewProjectRepository(db),
		Conversations: repository.NewConversationRepository(db),
		Versions:      repository.NewVersionRepository(db),
		Jobs:          repository.NewJobRepository(db),
		Transactions:  repository.NewTransactionRepository(db),
		Ledger:        repository.NewLedgerRepository(db),
		Promos:        repository.NewPromoRepository(db),
	}

	completer, err := completion.NewClient(cfg, logr)
	if err != nil {
		log.Fatalf("completion client: %v", err)
	}
	gateway := billing.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, logr)
	meter := metrics.New()

	var publisher service.Publisher
	if cfg.PublishingEnabled() {
		sites, err := storage.NewSitePublisher(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("site publisher: %v", err)
		}
		publisher = sites
	}

	var notifier service.Notifier = notify.Nop{}
	if cfg.NotificationsEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, logr)
		if err != nil {
			log.Fatalf("telegram notifier: %v", err)
		}
		notifier = tg
	}

	var limiter service.RateLimiter = ratelimit.Unlimited{}
	if cfg.RedisURL != "" {
		rl, rdb, err := ratelimit.NewFromURL(ctx, cfg.RedisURL, cfg.RateLimitPerWindow, cfg.RateLimitWindow)
		if err != nil {
			log.Fatalf("rate limiter: %v", err)
		}
		defer rdb.Close()
		limiter = rl
	}

	worker := service.NewGenerationWorker(cfg, logr, stores, completer, publisher, notifier, meter)
	if err := worker.Reconcile(ctx); err != nil {
		logr.Error("reconcile generation jobs", "err", err)
	}

	projectService := service.NewProjectService(cfg, logr, stores, worker, limiter, publisher)
	accountService := service.NewAccountService(cfg, logr, stores)
	paymentService := service.NewPaymentService(cfg, logr, stores, gateway, notifier, meter)
	promoService := service.NewPromoService(logr, stores)

	authProxy, err := auth.NewProxy(cfg.AuthUpstreamURL, logr)
	if err != nil {
		log.Fatalf("auth proxy: %v", err)
	}

	server := api.NewServer(cfg, logr, api.Deps{
		Projects:  projectService,
		Accounts:  accountService,
		Payments:  paymentService,
		Promos:    promoService,
		Jobs:      worker,
		Verifier:  auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthCookieName),
		AuthProxy: authProxy,
		Metrics:   meter,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
		stop()
	}
	wg.Wait()
}
