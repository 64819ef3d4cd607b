package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/aeolun/wirehub/pkg/server"
	"github.com/aeolun/wirehub/pkg/store"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "~/.wirehub/config.toml", "Path to config file")
	port := flag.Int("port", 0, "HTTP port to listen on (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	createPrincipal := flag.String("create-principal", "", "Create a principal (name:password) and exit")
	flag.Parse()

	if *version {
		fmt.Printf("Wirehub Server %s\n", Version)
		os.Exit(0)
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port != 0 {
		config.Server.HTTPPort = *port
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}

	finalDBPath, err := config.GetDatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(finalDBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	if *createPrincipal != "" {
		name, password, ok := strings.Cut(*createPrincipal, ":")
		if !ok || name == "" || password == "" {
			log.Fatalf("Invalid -create-principal value, expected name:password")
		}

		db, err := store.Open(finalDBPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := db.CreatePrincipal(name, password); err != nil {
			log.Fatalf("Failed to create principal: %v", err)
		}
		log.Printf("Created principal %s", name)
		return
	}

	serverConfig := config.ToServerConfig()

	srv, err := server.NewServer(finalDBPath, serverConfig)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if *debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	log.Printf("Config: %s", *configPath)
	log.Printf("Database: %s", finalDBPath)

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("Wirehub server %s started successfully", Version)
	log.Printf("WebSocket endpoint: ws://localhost:%d/ws", serverConfig.HTTPPort)
	if serverConfig.MetricsEnabled {
		log.Printf("Metrics: http://localhost:%d/metrics", serverConfig.HTTPPort)
	}

	// pprof for profiling
	go func() {
		log.Println("Starting pprof server on http://localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			log.Printf("pprof server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}
