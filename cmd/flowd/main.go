package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/user/flowd/internal/api"
	"github.com/user/flowd/internal/config"
	"github.com/user/flowd/internal/engine"
	storagesql "github.com/user/flowd/internal/storage/sql"
	"github.com/user/flowd/internal/trigger"
	"github.com/user/flowd/pkg/node"
	_ "modernc.org/sqlite"
)

func main() {
	port := flag.Int("port", 4000, "port for API server")
	dbType := flag.String("db-type", "sqlite", "database type: sqlite, postgres, mysql, mariadb")
	dbConn := flag.String("db-conn", "flowd.db", "database connection string")
	cfgPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg := &config.Config{}
	if loaded, err := config.LoadConfig(*cfgPath); err == nil {
		cfg = loaded
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load config: %v", err)
	}
	if cfg.Server.Port > 0 {
		*port = cfg.Server.Port
	}

	var driver string
	switch *dbType {
	case "sqlite":
		driver = "sqlite"
		if !strings.Contains(*dbConn, "?") {
			*dbConn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
		}
	case "postgres":
		driver = "pgx"
	case "mysql", "mariadb":
		driver = "mysql"
	default:
		log.Fatalf("Unsupported database type: %s", *dbType)
	}

	db, err := sql.Open(driver, *dbConn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if driver == "sqlite" {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(1)
	}

	store := storagesql.NewSQLStorage(db, driver)
	initCtx, cancelInit := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Init(initCtx); err != nil {
		cancelInit()
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	cancelInit()

	logger := engine.NewDefaultLogger()
	registry := node.NewRegistry(node.Deps{
		SMTP: node.SMTPSettings{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			SSL:      cfg.SMTP.SSL,
		},
		Logger: logger,
	})

	eng := engine.New(store, registry, logger, engine.Options{
		MaxNodesPerRun: cfg.Engine.MaxNodesPerRun,
		MaxRunDuration: cfg.Engine.MaxRunDuration,
	})
	webhooks := trigger.NewWebhookService(store, eng, logger)
	sweeper := trigger.NewSweeper(store, eng, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal %v, shutting down gracefully...\n", sig)
		cancel()
	}()

	go sweeper.Run(ctx)

	server := api.NewServer(store, eng, webhooks, registry, logger, api.ServerOptions{
		JWTSecret: []byte(cfg.Server.JWTSecret),
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: server.Routes(),
	}

	go func() {
		fmt.Printf("Starting flowd API server on :%d using %s storage...\n", *port, *dbType)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server failed: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	fmt.Println("Shutting down API server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	fmt.Println("flowd shutdown complete")
}
