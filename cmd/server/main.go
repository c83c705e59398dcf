package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/wallet-ledger/internal/audit"
	"github.com/ruralpay/wallet-ledger/internal/config"
	"github.com/ruralpay/wallet-ledger/internal/database"
	"github.com/ruralpay/wallet-ledger/internal/events"
	"github.com/ruralpay/wallet-ledger/internal/handlers"
	"github.com/ruralpay/wallet-ledger/internal/logger"
	"github.com/ruralpay/wallet-ledger/internal/services"
	"github.com/ruralpay/wallet-ledger/internal/store"
	"github.com/ruralpay/wallet-ledger/internal/store/memory"
	"github.com/ruralpay/wallet-ledger/internal/store/postgres"
	"github.com/ruralpay/wallet-ledger/internal/store/sqlite"
)

func main() {
	configFile := ".env"
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		configFile = v
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer st.Close()

	redisClient := database.InitRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditLogger := audit.NewAuditLogger(logger.Logger())
	hasher := services.NewPasswordHasher(cfg.Argon2)
	accountService := services.NewAccountService(st, hasher, auditLogger)
	engine := services.NewTransactionEngine(st)
	ledgerService := services.NewLedgerService(engine, st, st, newPublisher(redisClient, cfg.Ledger.EventsKey), auditLogger)
	queryService := services.NewQueryService(st, st)
	tokenService := services.NewTokenService(cfg.JWT.SecretKey, cfg.JWT.Expiry(), redisClient)

	if cfg.Admin.Enabled() {
		admin, err := accountService.EnsureAdmin(ctx, services.RegisterInput{
			Username: cfg.Admin.Username,
			Email:    cfg.Admin.Email,
			Password: cfg.Admin.Password,
		})
		if err != nil {
			logger.Fatalf("Failed to ensure admin account: %v", err)
		}
		logger.Infof("Admin account ready: %s (%s)", admin.Username, admin.ID)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Accounts:       accountService,
		Ledger:         ledgerService,
		Query:          queryService,
		Tokens:         tokenService,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Server starting on :%s (store=%s)", cfg.Server.Port, cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	logger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := database.InitDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, err
			}
			logger.Info("Database schema is up to date")
		}
		return postgres.New(db, cfg.Ledger.LockTimeout), nil
	case config.DriverSQLite:
		return sqlite.New(cfg.Database.SQLitePath, sqlite.WithLockTimeout(cfg.Ledger.LockTimeout))
	case config.DriverMemory:
		logger.Warn("Using the in-memory store; all data is lost on exit")
		return memory.New(memory.WithLockTimeout(cfg.Ledger.LockTimeout)), nil
	}
	return nil, fmt.Errorf("unsupported driver %q", cfg.Database.Driver)
}

func newPublisher(client *redis.Client, key string) events.Publisher {
	if client == nil {
		logger.Warn("Redis unavailable: ledger events will not be published")
		return events.NopPublisher{}
	}
	return events.NewRedisPublisher(client, key)
}
