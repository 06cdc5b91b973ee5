package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rajchodisetti/marketfeed/internal/app"
	"github.com/Rajchodisetti/marketfeed/internal/config"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

func main() {
	var (
		cfgPath      string
		symbols      string
		fundamentals string
		showStats    bool
		check        bool
		timeout      time.Duration
	)
	flag.StringVar(&cfgPath, "config", "", "config path (empty = built-in defaults)")
	flag.StringVar(&symbols, "symbols", "", "comma separated symbols, e.g. AAPL,bitcoin")
	flag.StringVar(&fundamentals, "fundamentals", "", "print fundamentals for one symbol")
	flag.BoolVar(&showStats, "stats", false, "print service stats after the run")
	flag.BoolVar(&check, "check", false, "check every configured provider once")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	if symbols == "" && fundamentals == "" && !check && !showStats {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}
	// Keep stdout clean for the JSON result
	observ.SetOutput(os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	out := map[string]any{}
	if check {
		out["providers"] = a.Service.TestProviders(ctx)
	}
	if symbols != "" {
		list := strings.Split(symbols, ",")
		if len(list) == 1 {
			out["quote"] = a.Service.GetMarketData(ctx, strings.TrimSpace(list[0]))
		} else {
			out["quotes"] = a.Service.GetBatchMarketData(ctx, list)
		}
	}
	if fundamentals != "" {
		out["fundamentals"] = a.Service.GetFundamentals(ctx, fundamentals)
	}
	if showStats {
		out["stats"] = a.Service.GetServiceStats(ctx)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
