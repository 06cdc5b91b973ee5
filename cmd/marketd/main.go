package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rajchodisetti/marketfeed/internal/app"
	"github.com/Rajchodisetti/marketfeed/internal/config"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

func main() {
	var cfgPath, envFile, addr string
	flag.StringVar(&cfgPath, "config", "configs/marketfeed.yaml", "config path (empty = built-in defaults)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with provider keys")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config)")
	flag.Parse()

	// A missing .env is normal in production
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: %s: %v", envFile, err)
	}

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logCloser, err := observ.SetupLogging(cfg.Logging)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	a.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		observ.Log("http_listening", map[string]any{"addr": cfg.Server.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observ.Log("http_server_error", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	observ.Log("shutdown_started", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		observ.Log("http_shutdown_error", map[string]any{"error": err.Error()})
	}
	if err := a.Close(); err != nil {
		observ.Log("store_close_error", map[string]any{"error": err.Error()})
	}
	observ.Log("shutdown_complete", nil)
}
