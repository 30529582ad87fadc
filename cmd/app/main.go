package main

import (
	"flag"
	"log"
	"os"

	"VolCast/internal/di"
	"VolCast/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config; env vars override it")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("volcast: %v", err)
	}
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("volcast: wire: %v", err)
	}
	// Run serves the API, the scheduler and the consumers until SIGINT/SIGTERM.
	if err := app.Run(); err != nil {
		log.Printf("volcast: %v", err)
		os.Exit(1)
	}
}
