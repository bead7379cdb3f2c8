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

	"github.com/arunpravin125/Eduvance-api/internal/auth"
	"github.com/arunpravin125/Eduvance-api/internal/config"
	"github.com/arunpravin125/Eduvance-api/internal/handlers"
	"github.com/arunpravin125/Eduvance-api/internal/logging"
	"github.com/arunpravin125/Eduvance-api/internal/middleware"
	"github.com/arunpravin125/Eduvance-api/internal/service"
	"github.com/arunpravin125/Eduvance-api/internal/store"
	"github.com/arunpravin125/Eduvance-api/internal/store/badgerstore"
	"github.com/arunpravin125/Eduvance-api/internal/store/sqlstore"
	"github.com/arunpravin125/Eduvance-api/internal/ws"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

var addr = flag.String("addr", "", "http service address, overrides APP_ADDR")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	log := logging.New(cfg.Env, cfg.LogLevel)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.Close()

	hub := ws.NewHub(log, cfg.RoomEventBuffer)
	defer hub.Shutdown()

	chat := service.New(st, st, st, hub, log, service.WithStoreTimeout(cfg.StoreTimeout))
	identity := &auth.Identity{
		Tokens:  auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Cookies: auth.NewCookieSigner(cfg.CookieSecret),
	}
	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 2*time.Minute)
	defer limiter.Stop()

	router := handlers.NewRouter(handlers.RouterConfig{
		Accounts:       st,
		Chat:           chat,
		Hub:            hub,
		Identity:       identity,
		Limiter:        limiter,
		SendBuffer:     cfg.ClientSendBuffer,
		AllowedOrigins: cfg.Origins(),
		Log:            log,
	})
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "badger":
		s, err := badgerstore.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := sqlstore.New(cfg.StoreDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
