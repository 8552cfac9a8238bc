// contragd serves the context pipeline over HTTP: build a namespace per
// entity instance, query it, delete it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/logger"
	"github.com/dhaniverse/contrag/internal/pipeline"
	"github.com/dhaniverse/contrag/internal/server"
)

func main() {
	configPath := flag.String("config", "contrag.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "contragd: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.Open(ctx, cfg, log)
	if err != nil {
		log.ErrorWith("failed to open pipeline", err, nil)
		os.Exit(1)
	}
	defer p.Close()

	srv := server.New(cfg.Server, p, log)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.ErrorWith("server stopped", err, nil)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
