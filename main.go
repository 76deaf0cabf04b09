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

	"github.com/xiaot623/agentmatch/internal/config"
	"github.com/xiaot623/agentmatch/internal/hub"
	"github.com/xiaot623/agentmatch/internal/notify"
	"github.com/xiaot623/agentmatch/internal/repository"
	"github.com/xiaot623/agentmatch/internal/search"
	"github.com/xiaot623/agentmatch/internal/service"
	handler "github.com/xiaot623/agentmatch/internal/transport/http"
	"github.com/xiaot623/agentmatch/internal/transport/rpc"
	"github.com/xiaot623/agentmatch/policy"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting matchmaker...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("RPC Port: %d", cfg.RPCPort)
	log.Printf("Store: %s", cfg.StoreDriver)
	log.Printf("Max messages per convo: %d", cfg.MaxMessages)

	// Initialize store
	db, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize feed search index
	index, err := search.NewFeedIndex()
	if err != nil {
		log.Fatalf("Failed to initialize search index: %v", err)
	}
	defer index.Close()

	// Initialize spectator hub
	feedHub := hub.NewHub()
	go feedHub.Run(ctx)

	// Optional NATS publisher
	var publisher service.FeedNotifier
	if cfg.NATSURL != "" {
		natsCfg := notify.DefaultNATSConfig(cfg.NATSURL)
		natsCfg.Subject = cfg.NATSSubject
		natsPub, err := notify.NewNATSPublisher(natsCfg)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsPub.Close()
		publisher = natsPub
		log.Printf("Publishing feed to NATS subject %s", natsPub.Subject())
	}

	// Initialize service
	svc := service.New(db, cfg, policyEngine, index, service.FanOut(feedHub, publisher))

	indexed, err := svc.RebuildIndex(ctx)
	if err != nil {
		log.Printf("WARN: search index rebuilt partially (%d entries): %v", indexed, err)
	} else {
		log.Printf("Indexed %d feed entries", indexed)
	}

	// Create HTTP server
	server := handler.NewServer(svc, hub.NewServer(feedHub, cfg.PingInterval, cfg.WriteTimeout))
	server.Debug = cfg.LogLevel == "debug"

	// Create RPC server
	rpcServer, err := rpc.NewServer(svc)
	if err != nil {
		log.Fatalf("Failed to initialize RPC server: %v", err)
	}

	// Start HTTP server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Start RPC server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.RPCPort)
		if err := rpcServer.Start(addr); err != nil {
			log.Fatalf("Failed to start RPC server: %v", err)
		}
	}()

	log.Printf("HTTP API started on port %d", cfg.HTTPPort)
	log.Printf("RPC API started on port %d", cfg.RPCPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down matchmaker...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
	}
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown RPC server gracefully: %v", err)
	}
	stop()

	log.Println("Matchmaker stopped")
}

func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.StoreDriver == config.DriverBolt {
		db, err := repository.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return db, nil
}
