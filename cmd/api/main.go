package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"shoutmap/internal/adapter/storage"
	"shoutmap/internal/config"
	"shoutmap/internal/realtime"
	"shoutmap/internal/server"
	geoservice "shoutmap/internal/service/geo"
	"shoutmap/internal/service/ratelimit"
	"shoutmap/internal/service/session"
)

func main() {
	// Load .env if present; real deployments use the environment directly
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	natsConn, err := initNATS(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Realtime plumbing: one bus, one subscription registry, one change
	// publisher shared by every store.
	bus := realtime.NewNATSBus(natsConn)
	registry := realtime.NewRegistry(bus)
	changes := realtime.NewPublisher(bus)
	broadcaster := realtime.NewBroadcaster(bus, registry)

	// Initialize storage adapters
	profileStore := storage.NewProfileStore(db, changes)
	socialStore := storage.NewSocialStore(db, changes)
	megaphoneStore := storage.NewMegaphoneStore(db, changes)
	shoutStore := storage.NewShoutStore(db, changes)
	chatStore := storage.NewChatStore(db, changes)

	// Initialize services
	geoService := geoservice.NewService(geoservice.Config{
		DefaultRadiusMeters: cfg.Geo.DefaultRadiusMeters,
		MinRadiusMeters:     cfg.Geo.MinRadiusMeters,
		MaxRadiusMeters:     cfg.Geo.MaxRadiusMeters,
	})

	geocoder := geoservice.NewHTTPGeocoder(
		cfg.Geocoder.BaseURL,
		&http.Client{Timeout: cfg.Geocoder.Timeout},
		cfg.Geocoder.CoalesceWindow,
	)

	shoutLimiter := ratelimit.New(redisClient, cfg.RateLimit.ShoutsPerWindow, cfg.RateLimit.Window)
	megaphoneLimiter := ratelimit.New(redisClient, cfg.RateLimit.MegaphonesPerWindow, cfg.RateLimit.Window)

	sessions := session.NewManager(registry, session.Stores{
		Chat:       chatStore,
		Social:     socialStore,
		Megaphones: megaphoneStore,
		Profiles:   profileStore,
	}, session.Config{
		DebounceWindow: cfg.Realtime.DebounceWindow,
		IdleTimeout:    cfg.Realtime.SessionIdleTimeout,
	})
	go sessions.Run(ctx)
	defer sessions.Close()

	// Periodic sweep of expired shouts
	go shoutStore.RunExpirySweep(ctx)

	// Initialize HTTP server
	httpServer := server.NewServer(cfg, server.Deps{
		Profiles:         profileStore,
		Social:           socialStore,
		Megaphones:       megaphoneStore,
		Shouts:           shoutStore,
		Chat:             chatStore,
		Geo:              geoService,
		Geocoder:         geocoder,
		Sessions:         sessions,
		Registry:         registry,
		Broadcaster:      broadcaster,
		Bus:              bus,
		ShoutLimiter:     shoutLimiter,
		MegaphoneLimiter: megaphoneLimiter,
	})

	// Start HTTP server
	go func() {
		log.Printf("Starting HTTP server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	log.Println("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	log.Println("Shutting down services...")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
