package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/advisory"
	"benchguard.io/internal/anomaly"
	"benchguard.io/internal/audit"
	"benchguard.io/internal/config"
	"benchguard.io/internal/store/pg"
)

// smoke-audit checks a live database: it verifies the ledger hash chain and
// prints an anomaly scan digest. It exits non-zero when the chain is broken.
func main() {
	log.SetFlags(0)
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	var (
		configPath = pflag.StringP("config", "c", os.Getenv("BENCHGUARD_CONFIG"), "path to YAML config file")
		timeout    = pflag.Duration("timeout", time.Minute, "overall deadline")
		advise     = pflag.Bool("advise", false, "ask the advisory service for recommendations")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Postgres.DSN == "" {
		log.Fatal("missing DSN: set postgres.dsn or BENCHGUARD_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(cfg.Postgres.DSN, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ledger, err := audit.NewLedger(store.Audit(), audit.WithChain(cfg.Audit.Chain))
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	checked, err := ledger.Verify(ctx)
	if err != nil {
		log.Fatalf("verify ledger after %d entries: %v", checked, err)
	}
	fmt.Printf("ledger chain intact: %d linked entries\n", checked)

	activityLog, err := activity.NewLog(store.Activity())
	if err != nil {
		log.Fatalf("activity: %v", err)
	}
	scanner := anomaly.NewScanner(anomaly.NewDetector(cfg.Anomaly.Thresholds), anomaly.Sources{
		Audit:    ledger,
		Activity: activityLog,
		Actors:   store.Actors(ctx),
		Lookback: cfg.Anomaly.Lookback,
	})
	res := scanner.Run(ctx)
	snap := advisory.NewSnapshot(res)
	out := map[string]any{"snapshot": snap}

	if *advise {
		client := advisory.NewClient(cfg.Advisory)
		if !client.Enabled() {
			log.Fatal("advisory requested but no api key configured")
		}
		advice, err := client.Report(ctx, snap)
		if err != nil {
			log.Fatalf("advisory: %v", err)
		}
		out["advice"] = advice
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
