package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OasisMate/cartpos-sub000/internal/cache"
	"github.com/OasisMate/cartpos-sub000/internal/config"
	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/httpapi"
	"github.com/OasisMate/cartpos-sub000/internal/logging"
	"github.com/OasisMate/cartpos-sub000/internal/service"
	"github.com/OasisMate/cartpos-sub000/internal/store"
	"github.com/OasisMate/cartpos-sub000/internal/store/memory"
	pgstore "github.com/OasisMate/cartpos-sub000/internal/store/postgres"
)

func main() {
	mintToken := flag.String("mint-token", "", "print a bearer token for this principal id and exit")
	platformAdmin := flag.Bool("platform-admin", false, "mint the token with the platform admin claim")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN)

	if *mintToken != "" {
		token, expiresAt, err := auth.IssueToken(domain.Principal{ID: *mintToken, PlatformAdmin: *platformAdmin})
		if err != nil {
			logger.Fatalf("mint token: %v", err)
		}
		logger.WithFields(logrus.Fields{"principal": *mintToken, "expires_at": expiresAt}).Info("token minted")
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatalf("migrate: %v", err)
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Warn("repository: in-memory seeded store, data is lost on restart")
	}

	projections := cache.ProjectionCache(cache.NoopProjectionCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisProjectionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache")
		} else {
			projections = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	svc := service.New(repo, projections, cfg.StockCacheTTL(), logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("cartpos server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	for _, r := range cfg.ManagerPIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("MANAGER_PIN must contain digits only")
		}
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated-digit, sequential and commonly
// guessed PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"121212": true, "112233": true, "123123": true, "147258": true,
		"159753": true, "102030": true, "202020": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	repeated := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			repeated = false
		}
		step := int(pin[i]) - int(pin[i-1])
		if step != 1 {
			ascending = false
		}
		if step != -1 {
			descending = false
		}
	}
	if repeated {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
