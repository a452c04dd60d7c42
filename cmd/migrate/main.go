package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"benchguard.io/internal/migrate"
	"benchguard.io/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	var (
		dsn     = pflag.String("dsn", os.Getenv("BENCHGUARD_PG_DSN"), "PostgreSQL DSN")
		timeout = pflag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [--dsn DSN] [up|down|seed|status]")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or BENCHGUARD_PG_DSN")
	}
	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), pg.Migrations(), migrate.WithSeeds(pg.Seeds()))

	switch pflag.Arg(0) {
	case "up":
		var applied []string
		if applied, err = mgr.Up(ctx); err == nil {
			printAll("applied", applied)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			fmt.Println("nothing to roll back")
			return
		}
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		var applied []string
		if applied, err = mgr.Seed(ctx); err == nil {
			printAll("seeded", applied)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		log.Fatalf("unknown command %q", pflag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", pflag.Arg(0), err)
	}
}

func printAll(verb string, names []string) {
	if len(names) == 0 {
		fmt.Println("up to date")
		return
	}
	for _, n := range names {
		fmt.Println(verb, n)
	}
}
