package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/findit-game/findit-server/internal/account"
	"github.com/findit-game/findit-server/internal/catalog"
	"github.com/findit-game/findit-server/internal/httpapi"
	"github.com/findit-game/findit-server/internal/hub"
	"github.com/findit-game/findit-server/internal/room"
	"github.com/findit-game/findit-server/internal/server"
)

type config struct {
	gameAddr       string
	httpAddr       string
	roundsDir      string
	minPlayers     int
	nextRoundDelay time.Duration
	databaseURL    string
	redisURL       string
}

func loadConfig() config {
	return config{
		gameAddr:       getenv("GAME_ADDR", ":7777"),
		httpAddr:       getenv("HTTP_ADDR", ":8080"),
		roundsDir:      os.Getenv("ROUNDS_DIR"),
		minPlayers:     getenvInt("MIN_PLAYERS", 2),
		nextRoundDelay: time.Duration(getenvInt("NEXT_ROUND_DELAY_SEC", 5)) * time.Second,
		databaseURL:    os.Getenv("DATABASE_URL"),
		redisURL:       os.Getenv("REDIS_URL"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func newStore(cfg config, log *zap.Logger) (account.Store, error) {
	switch {
	case cfg.databaseURL != "":
		log.Info("using postgres account store")
		return account.NewPostgres(cfg.databaseURL)
	case cfg.redisURL != "":
		log.Info("using redis account store")
		return account.NewRedis(cfg.redisURL)
	default:
		log.Info("using in-memory account store")
		return account.NewMemory(), nil
	}
}

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := loadConfig()

	// No partial service: a broken catalog means no server.
	cat, err := catalog.New(cfg.roundsDir, log)
	if err != nil {
		log.Fatal("round catalog load failed", zap.Error(err))
	}

	accounts, err := newStore(cfg, log)
	if err != nil {
		log.Fatal("account store init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.New(ctx, cat, accounts, room.Config{
		MinPlayers:     cfg.minPlayers,
		NextRoundDelay: cfg.nextRoundDelay,
	}, log)
	srv := server.New(cfg.gameAddr, h, cat, accounts, cfg.nextRoundDelay, log)

	httpSrv := &http.Server{
		Addr:    cfg.httpAddr,
		Handler: httpapi.SetupRoutes(h, srv),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gCtx) })
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}
