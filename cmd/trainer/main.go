// Package main implements the offline trainer. It trains and persists a
// model for every bean with brew records, plus the global model, so the
// API can serve the saved variant without training in the request path.
//
// Usage:
//
//	go run ./cmd/trainer                       # every bean and global
//	go run ./cmd/trainer --bean="ケニア AA"     # a single bean
//	go run ./cmd/trainer --global=false --concurrency=2
//
// Configuration is read from the environment (or .env) like the API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"brewcast/internal/app"
	"brewcast/internal/config"
	"brewcast/internal/registry"
	"brewcast/internal/types"
)

type options struct {
	bean        string
	global      bool
	concurrency int
}

func main() {
	var opts options
	flag.StringVar(&opts.bean, "bean", "", "train only this bean")
	flag.BoolVar(&opts.global, "global", true, "also train the model over every bean")
	flag.IntVar(&opts.concurrency, "concurrency", 4, "beans trained in parallel")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.LoadConfig(app.NewSecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, driver, err := app.OpenDataStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := app.OpenBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	regs := app.NewRegistries(ctx, cfg.Model, blobs, store, driver, nil, logger)

	keys, err := trainingKeys(ctx, store, opts)
	if err != nil {
		return err
	}
	logger.Info("training started", "models", len(keys), "store", blobs.Location())

	results := trainAll(ctx, regs.PerBean, keys, opts.concurrency, logger)
	return report(results, logger)
}

// beanLister lists beans that have brew records.
type beanLister interface {
	BeanNamesWithData(ctx context.Context) ([]string, error)
}

func trainingKeys(ctx context.Context, store beanLister, opts options) ([]string, error) {
	if opts.bean != "" {
		return []string{opts.bean}, nil
	}
	names, err := store.BeanNamesWithData(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing beans: %w", err)
	}
	if opts.global {
		names = append(names, types.GlobalModelKey)
	}
	return names, nil
}

// trainer is the part of the per-bean registry used here.
type trainer interface {
	Train(ctx context.Context, key string) (*registry.TrainedModel, error)
}

type result struct {
	key        string
	samples    int
	confidence float64
	elapsed    time.Duration
	err        error
}

// trainAll trains every key with at most concurrency runs in flight. One
// failing bean does not stop the others.
func trainAll(ctx context.Context, t trainer, keys []string, concurrency int, logger *slog.Logger) []result {
	var (
		mu      sync.Mutex
		results = make([]result, 0, len(keys))
	)

	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for _, key := range keys {
		g.Go(func() error {
			start := time.Now()
			m, err := t.Train(ctx, key)
			r := result{key: key, elapsed: time.Since(start), err: err}
			if err == nil {
				r.samples = m.SampleCount
				r.confidence = m.Confidence.Confidence
				logger.Info("model trained", "key", key, "samples", r.samples,
					"confidence", r.confidence, "elapsed", r.elapsed)
			} else {
				logger.Warn("training failed", "key", key, "error", err)
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].key < results[j].key })
	return results
}

// report fails when nothing could be trained or when any key failed for a
// reason other than too few records. Sparse beans are counted as skipped.
func report(results []result, logger *slog.Logger) error {
	var trained, skipped int
	var errs []error
	for _, r := range results {
		switch {
		case r.err == nil:
			trained++
		case types.CodeOf(r.err) == types.ErrCodeValidationInsufficientData:
			skipped++
		default:
			errs = append(errs, fmt.Errorf("%s: %w", r.key, r.err))
		}
	}
	logger.Info("training finished", "trained", trained, "skipped", skipped, "failed", len(errs))

	if trained == 0 && len(results) > 0 {
		return errors.Join(append(errs, errors.New("no model was trained"))...)
	}
	return errors.Join(errs...)
}
