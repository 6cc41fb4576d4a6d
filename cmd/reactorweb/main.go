// Command reactorweb starts the reactor HTTP server with a fixed
// configuration, mirroring the literal constructor call the original
// WebServer's main() made.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/s00inx/reactorweb/internal/dbpool"
	"github.com/s00inx/reactorweb/internal/logsink"
	"github.com/s00inx/reactorweb/internal/reactorsrv"
)

func main() {
	cfg := reactorsrv.DefaultConfig()
	cfg.Port = 1316
	cfg.TriggerMode = 3
	cfg.TimeoutMS = 60_000
	cfg.OptLinger = true
	cfg.WorkerPool = 8
	cfg.LogLevel = logsink.LevelInfo
	cfg.DB = dbpool.Config{
		Host:     "localhost",
		Port:     3306,
		User:     "root",
		Password: "root",
		Database: "reactorweb",
		Size:     12,
	}

	srv, err := reactorsrv.New(cfg)
	if err != nil {
		log.Fatalf("reactorweb: init: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("reactorweb: %v", err)
	}
}
