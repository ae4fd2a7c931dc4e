package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/audit"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/console/handler"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/console/server"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/console/service"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/governance"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra/auth"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/repository/postgres"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	// 2. Инфраструктура
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	store, err := postgres.NewStore(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancel()
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 3. Ключи RS256: консоль и проверяет, и выпускает токены
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key parse failed", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("private key parse failed", zap.Error(err))
	}

	// 4. Аудит мутаций реестра пишется тем же trail'ом, что и в Data Plane
	trail := audit.NewTrail(store, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval, logger)
	trail.Start()

	// 5. Сервисы (Dependency Injection)
	// Governance-ядро общее с Data Plane: мутации консоли проходят через
	// ту же семантику (инварианты, Redis-сигнал, аудит)
	gov := governance.NewService(store, store, trail, rdb,
		cfg.Engine.CacheTTL, cfg.Engine.MaturityCacheTTL, logger)

	registryService := service.NewRegistryService(gov, auth.NewBaseValidator(pubKey), logger)
	agentService := service.NewAgentService(store, rdb, logger)
	authService := service.NewAuthService(store, privKey, cfg.Auth.TokenTTL)
	auditService := service.NewAuditService(store)

	consoleSrv := server.NewConsoleServer(cfg, logger,
		registryService,
		handler.NewAuthHandler(authService),
		handler.NewPackageHandler(registryService),
		handler.NewAgentHandler(agentService),
		handler.NewAuditHandler(auditService),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	trail.Stop()
	logger.Info("console exited properly")
}
