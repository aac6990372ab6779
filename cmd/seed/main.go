// Package main loads the sample dataset into the configured database.
//
// Usage:
//
//	go run ./cmd/seed                      # truncate and load 30 recipes per bean
//	go run ./cmd/seed --recipes=60 --seed=7
//	go run ./cmd/seed --reset=false        # append to existing data
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"brewcast/internal/app"
	"brewcast/internal/config"
	"brewcast/internal/seed"
)

func main() {
	opts := seed.DefaultOptions()
	flag.IntVar(&opts.RecipesPerBean, "recipes", opts.RecipesPerBean, "recipes generated per bean")
	flag.Uint64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	flag.BoolVar(&opts.Reset, "reset", opts.Reset, "truncate all tables first")
	flag.StringVar(&opts.Password, "password", opts.Password, "password of the sample users")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(opts seed.Options) error {
	cfg, err := config.LoadConfig(app.NewSecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, _, err := app.OpenDataStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sum, err := seed.Run(ctx, store, opts, logger)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d users, %d beans, %d recipes\n", sum.Users, sum.Beans, sum.Recipes)
	return nil
}
