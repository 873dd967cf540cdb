package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/ulvgard/procplan/internal/config"
	"github.com/ulvgard/procplan/internal/db"
	"github.com/ulvgard/procplan/internal/server"
	"github.com/ulvgard/procplan/internal/service"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "path to server config")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer database.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("failed to init db: %v", err)
	}

	svc, err := service.New(cfg.CatalogPath, database)
	if err != nil {
		log.Fatalf("failed to start service: %v", err)
	}

	srv := server.New(svc, cfg.WebRoot)

	fmt.Printf("ProcPlan server listening on %s (TLS: %v)\n", cfg.Addr, cfg.CertPath != "")
	if cfg.CertPath != "" && cfg.KeyPath != "" {
		log.Fatal(http.ListenAndServeTLS(cfg.Addr, cfg.CertPath, cfg.KeyPath, srv.Routes()))
	} else {
		log.Fatal(http.ListenAndServe(cfg.Addr, srv.Routes()))
	}
}
