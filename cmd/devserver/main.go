package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Skotchmaster/blytz_client/internal/devserver/httpserver"
	"github.com/Skotchmaster/blytz_client/internal/devserver/repo"
	"github.com/Skotchmaster/blytz_client/internal/devserver/service"
	"github.com/Skotchmaster/blytz_client/internal/events"
	"github.com/Skotchmaster/blytz_client/pkg/config"
	"github.com/Skotchmaster/blytz_client/pkg/db"
	"github.com/Skotchmaster/blytz_client/pkg/logging"
	"github.com/Skotchmaster/blytz_client/pkg/tokens"
)

const defaultDSN = "devserver.db"

func main() {
	config.LoadEnvFile()
	cfg := config.Load()

	if err := config.Missing(map[string]string{
		"JWT_SECRET":         string(cfg.JWTAccessSecret),
		"JWT_REFRESH_SECRET": string(cfg.JWTRefreshSecret),
	}); err != nil {
		log.Fatal(err)
	}

	l := logging.New(cfg.LogLevel).With("service", "devserver")

	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = defaultDSN
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gdb, err := db.Open(initCtx, dsn)
	if err != nil {
		cancel()
		log.Fatalf("db init error: %v", err)
	}
	rp := &repo.GormRepo{DB: gdb}
	err = rp.Migrate(initCtx)
	cancel()
	if err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	prod, err := events.New(cfg.KafkaBrokers, l)
	if err != nil {
		log.Fatal(err)
	}

	issuer := &tokens.Issuer{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	}

	e := httpserver.New(l, &httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{
			Svc: &service.AuthService{Repo: rp, Tokens: issuer, Events: prod},
		},
		Tokens: issuer,
		Ready: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	go func() {
		l.Info("server_started", "addr", addr, "kafka", len(cfg.KafkaBrokers) > 0)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("echo start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("shutting_down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		l.Error("server_shutdown_error", "error", err)
	}
	if err := db.Close(gdb); err != nil {
		l.Error("db_close_error", "error", err)
	}
	if err := prod.Close(); err != nil {
		l.Error("kafka_close_error", "error", err)
	}

	l.Info("shutdown_complete")
}
