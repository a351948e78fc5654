package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkorenev/geopay/internal/api"
	"github.com/mkorenev/geopay/internal/config"
	"github.com/mkorenev/geopay/internal/handler"
	"github.com/mkorenev/geopay/internal/infrastructure/kafka"
	"github.com/mkorenev/geopay/internal/infrastructure/observability"
	"github.com/mkorenev/geopay/internal/infrastructure/redis"
	"github.com/mkorenev/geopay/internal/provider"
	"github.com/mkorenev/geopay/internal/provider/rest"
	core "github.com/mkorenev/geopay/internal/repository/postgres"
	service "github.com/mkorenev/geopay/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	shutdown := observability.Setup("geopay")
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	accountRepo := core.NewPostgresAccountRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	savingRepo := core.NewPostgresLockedSavingRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	retryPolicy := provider.DefaultRetryPolicy()
	captureProvider := rest.NewClient(cfg.CaptureProviderURL, retryPolicy)
	payoutProvider := rest.NewClient(cfg.PayoutProviderURL, retryPolicy)
	balanceSource := rest.NewClient(cfg.BalanceSourceURL, retryPolicy)

	transferSvc := service.NewTransferService(accountRepo, transactionRepo, redisClient, producer, cfg.FeeRate)
	savingsSvc := service.NewSavingsService(accountRepo, savingRepo, transactionRepo,
		captureProvider, payoutProvider, redisClient, producer,
		cfg.EarlyWithdrawalPenaltyRate, cfg.LockPeriodsMonths)
	accountSvc := service.NewAccountService(accountRepo, savingRepo, balanceSource)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	confirmationConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "provider-confirmations", "geopay-confirmations", savingsSvc)
	go confirmationConsumer.Consume(ctx)
	defer confirmationConsumer.Close()

	h := handler.NewHandler(transferSvc, savingsSvc, accountSvc)
	router := api.SetupRouter(h, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
