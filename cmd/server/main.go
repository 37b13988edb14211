package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/showpls/showpls-backend/internal/config"
	"github.com/showpls/showpls-backend/internal/db"
	httpHandlers "github.com/showpls/showpls-backend/internal/http/handlers"
	httpRouter "github.com/showpls/showpls-backend/internal/http/router"
	"github.com/showpls/showpls-backend/internal/logger"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/repository"
	"github.com/showpls/showpls-backend/internal/service"
	"github.com/showpls/showpls-backend/internal/storage"
	"github.com/showpls/showpls-backend/internal/ton"
	"github.com/showpls/showpls-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	proofStorage, err := storage.NewProofStorage(cfg.ProofStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// Адаптер к TON: единственная точка контакта с блокчейном.
	ledger := ton.NewClient(ton.Config{
		APIBaseURL:        cfg.TonAPIBaseURL,
		APIKey:            cfg.TonAPIKey,
		GatewayURL:        cfg.EscrowGatewayURL,
		PlatformWallet:    cfg.PlatformWallet,
		FeeReceiverWallet: cfg.FeeReceiverWallet,
		FeeBps:            cfg.PlatformFeeBps,
		GasReserve:        models.NanoTON(cfg.GasReserveNanoTon),
		Deadline:          cfg.EscrowDeadline,
		Timeout:           cfg.LedgerTimeout,
	})

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	orderRepo := repository.NewOrderRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	ratingRepo := repository.NewRatingRepository(dbConn)
	tipRepo := repository.NewTipRepository(dbConn)
	messageRepo := repository.NewMessageRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	idempotencyRepo := repository.NewIdempotencyRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub()
	go hub.Run()

	// Сервисы.
	guard := service.NewIdempotencyGuard(idempotencyRepo, cfg.IdempotencyTTL)
	notificationService := service.NewNotificationService(notificationRepo, hub)
	authService := service.NewAuthService(userRepo, tokenManager, cfg.TelegramBotToken)
	profileService := service.NewProfileService(userRepo, ledger)
	orderService := service.NewOrderService(orderRepo, userRepo, ledger, notificationService, cfg.PlatformFeeBps)
	escrowService := service.NewEscrowService(orderRepo, userRepo, ledger, guard, notificationService)
	disputeService := service.NewDisputeService(disputeRepo, orderRepo, userRepo, ledger, guard, notificationService, cfg.DisputeSLA)
	ratingService := service.NewRatingService(ratingRepo, orderRepo)
	tipService := service.NewTipService(tipRepo, orderRepo, userRepo, ledger, guard, notificationService)
	chatService := service.NewChatService(messageRepo, orderRepo, hub)

	// Фоновый обходчик просроченных споров и истёкших идемпотентных записей.
	sweeper := service.NewDisputeSweeper(disputeRepo, orderRepo, guard, notificationService, cfg.DisputeSweepInterval)
	go sweeper.Run(ctx)

	// HTTP хэндлеры.
	authHandler := httpHandlers.NewAuthHandler(authService)
	profileHandler := httpHandlers.NewProfileHandler(profileService)
	orderHandler := httpHandlers.NewOrderHandler(orderService)
	escrowHandler := httpHandlers.NewEscrowHandler(escrowService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	ratingHandler := httpHandlers.NewRatingHandler(ratingService)
	tipHandler := httpHandlers.NewTipHandler(tipService)
	chatHandler := httpHandlers.NewChatHandler(chatService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	mediaHandler := httpHandlers.NewMediaHandler(proofStorage)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg,
		authHandler, profileHandler, orderHandler, escrowHandler,
		disputeHandler, ratingHandler, tipHandler, chatHandler,
		notificationHandler, mediaHandler, wsHandler, healthHandler,
		tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
