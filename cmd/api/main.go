package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"lifeline.org/internal/donation"
	"lifeline.org/internal/httpapi"
	"lifeline.org/internal/match"
	"lifeline.org/internal/obs"
	"lifeline.org/internal/offer"
	"lifeline.org/internal/realtime"
	"lifeline.org/internal/session"
	"lifeline.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db    *sql.DB
		store donation.Store
		users httpapi.UserWriter
	)
	if dsn := os.Getenv("LIFELINE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = pgStore.DB()
		store = pgStore
		users = pgStore
	} else {
		log.Println("LIFELINE_PG_DSN not set, running on in-memory storage")
		mem := donation.NewInMemory()
		store = mem
		users = mem
	}

	coord := realtime.NewCoordinator(store.Messages())
	matcher := match.NewService(store, match.WithRadiusKm(envFloat("LIFELINE_MATCH_RADIUS_KM")))
	offers := offer.NewService(store, coord)
	sessions := session.NewService(store.Users(), session.NewRegistry())

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version,
		store, users, matcher, offers, coord, sessions)

	addr := os.Getenv("LIFELINE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// long-lived websocket upgrades share this server, so no
		// blanket write timeout
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting lifeline-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envFloat(key string) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return v
}
