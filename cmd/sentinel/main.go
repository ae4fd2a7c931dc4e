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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/audit"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/engine"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/governance"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra/auth"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/repository/postgres"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/sandbox"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/scanner"
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

	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура: Postgres и Redis
	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	store, err := postgres.NewStore(pingCtx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	if err := store.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 3. Аудит: буферизированный trail с пакетной записью в Postgres
	trail := audit.NewTrail(store, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval, logger)
	trail.Start()

	// 4. Governance: кэш решений + межинстансная инвалидация
	gov := governance.NewService(store, store, trail, rdb,
		cfg.Engine.CacheTTL, cfg.Engine.MaturityCacheTTL, logger)
	go gov.StartInvalidationListener(appCtx, rdb)

	// 5. Сканер зависимостей
	backends := []scanner.ScanBackend{
		scanner.NewOSVBackend("osv-scanner", cfg.Scanner.VulnTimeout, logger),
		scanner.NewPipAuditBackend("pip-audit", cfg.Scanner.VulnTimeout, logger),
	}
	tree := scanner.NewTreeInspector("pipdeptree", cfg.Scanner.TreeTimeout, logger)
	analyzer := scanner.NewAnalyzer(backends, tree, scanner.Policy{
		FailPolicy:     scanner.FailPolicy(cfg.Scanner.FailPolicy),
		BlockConflicts: cfg.Scanner.BlockConflicts,
		BlockSeverity:  domain.Severity(cfg.Scanner.BlockSeverity),
	}, logger)

	// 6. Песочница: docker за защитным контуром (rate limit + CB + retry)
	runtime := sandbox.NewReliableRuntime(
		sandbox.NewDockerRuntime(cfg.Sandbox.RuntimeBin, logger),
		cfg.Sandbox.MaxBuildRate,
	)
	builder := sandbox.NewEnvironmentBuilder(runtime, store,
		cfg.Sandbox.BaseImage, cfg.Sandbox.BuildTimeout, logger)
	executor := sandbox.NewSecureExecutor(runtime, store, cfg.Sandbox, logger)

	// 7. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		// Гейджи насыщения обновляем фоном, а не на каждом запросе
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.AuditBufferFill.Set(float64(trail.Pending()))
				metrics.DecisionCacheSize.Set(float64(gov.CacheSize()))
			}
		}
	}()

	// 8. Ядро и HTTP-поверхность
	core := engine.NewSentinelCore(gov, analyzer, builder, executor, trail, metrics, logger)

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key parse failed", zap.Error(err))
	}
	authMW := auth.NewMiddleware(auth.NewBaseValidator(pubKey), logger)

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     core.Routes(authMW),
		ReadTimeout: cfg.Server.ReadTimeout,
		// Сырой server.write_timeout здесь не годится: install/execute
		// синхронно ждут скан, сборку и исполнение
		WriteTimeout: cfg.DataPlaneWriteTimeout(),
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("sentinel data plane started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("sentinel stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancel()
	// Хвост аудита дописывается до выхода — записи не теряются при рестарте
	trail.Stop()
	logger.Info("sentinel exited properly")
}
