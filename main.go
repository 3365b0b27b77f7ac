package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"auto_hedge_go/config"
	"auto_hedge_go/logs"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the config.yaml file")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: .env file not found, will continue using system environment variables.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Fatal error: Unable to load config file '%s': %v\n", *configPath, err)
		return
	}
	config.LoadEnvConfig().Apply(cfg)

	logFilename := filepath.Join(cfg.Normal.LogDirectory, "hedge.log")
	if err := logs.Init(cfg.Logs, logFilename); err != nil {
		fmt.Printf("Fatal error: Failed to initialize logging system: %v\n", err)
		return
	}
	defer logs.Close()

	logs.Infof("Configuration loaded successfully, logs will be written to: %s", logFilename)

	orchestrator, err := NewOrchestrator(cfg)
	if err != nil {
		logs.Fatalf("Failed to initialize Orchestrator: %v", err)
	}
	orchestrator.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	orchestrator.Stop()
}
