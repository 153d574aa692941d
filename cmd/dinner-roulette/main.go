package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"dinner-roulette/internal/api"
	"dinner-roulette/internal/auth"
	"dinner-roulette/internal/catalog"
	"dinner-roulette/internal/config"
	"dinner-roulette/internal/database"
	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/llm"
	"dinner-roulette/internal/logging"
	"dinner-roulette/internal/metrics"
	"dinner-roulette/internal/party"
	"dinner-roulette/internal/preference"
	"dinner-roulette/internal/realtime"
	"dinner-roulette/internal/selector"
	"dinner-roulette/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = serve(ctx, cfg, db)
	case "spin":
		err = soloSpin(ctx, cfg, db, args)
	case "seed-dishes":
		err = seedDishes(ctx, cfg, db, args)
	case "import-catalog":
		err = importCatalog(ctx, cfg, db, args)
	case "metrics-cleanup":
		err = metricsCleanup(ctx, db, args)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logging.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: dinner-roulette <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  serve              Run the HTTP and websocket server")
	fmt.Println("  spin               Spin once from the command line")
	fmt.Println("  seed-dishes        Load the dish catalog from a JSON file or the latest snapshot")
	fmt.Println("  import-catalog     Import dishes from an HTML listing (URL or file)")
	fmt.Println("  metrics-cleanup    Remove old metric records")
}

func newPartyService(cfg *config.Config, db *database.DB, pub party.Publisher) (*party.Service, *dish.Repository) {
	dishes := dish.NewRepository(db.SQL)
	svc := party.NewService(party.NewRepository(db.SQL), dishes, pub, metrics.NewStore(db.SQL), cfg.SpinCountdown)
	return svc, dishes
}

func serve(ctx context.Context, cfg *config.Config, db *database.DB) error {
	hub := realtime.NewHub()
	svc, dishes := newPartyService(cfg, db, hub)

	if n, err := dishes.Count(ctx); err == nil && n == 0 {
		logging.Warn().Msg("Dish catalog is empty; run seed-dishes or import-catalog")
	}

	server := api.NewServer(svc, dishes, auth.NewIssuer(cfg.JWTSecret, auth.DefaultTTL), hub)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Realtime hub stopped")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("port", cfg.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logging.Info().Msg("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logging.Info().Msg("Server exiting")
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}

func soloSpin(ctx context.Context, cfg *config.Config, db *database.DB, args []string) error {
	fs := flag.NewFlagSet("spin", flag.ExitOnError)
	diet := fs.String("diet", "", "Diet (vegan, vegetarian, pescatarian, omnivore, ...)")
	allergens := fs.String("allergens", "", "Comma-separated allergens to avoid")
	budget := fs.Int("budget", 0, "Maximum cost band (1-3)")
	timeBand := fs.Int("time", 0, "Maximum time band (1-3)")
	seed := fs.String("seed", "", "Seed to replay a spin")
	healthy := fs.Bool("healthy", false, "Favor healthy dishes")
	cheap := fs.Bool("cheap", false, "Favor cheap dishes")
	fast := fs.Bool("max30m", false, "Favor quick dishes")
	fs.Parse(args)

	pref := preference.MemberPreference{Diet: preference.Diet(strings.ToLower(*diet))}
	if *allergens != "" {
		pref.Allergens = strings.Split(*allergens, ",")
	}
	pref = pref.Normalized()
	if *budget > 0 {
		pref.BudgetBand = preference.Band(*budget)
	}
	if *timeBand > 0 {
		pref.TimeBand = preference.Band(*timeBand)
	}

	svc, _ := newPartyService(cfg, db, nopPublisher{})
	rec, err := svc.SoloSpin(ctx, party.SoloSpinRequest{
		Preference: pref,
		Seed:       *seed,
		PowerUps:   selector.PowerUps{Healthy: *healthy, Cheap: *cheap, Max30m: *fast},
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal spin: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func seedDishes(ctx context.Context, cfg *config.Config, db *database.DB, args []string) error {
	fs := flag.NewFlagSet("seed-dishes", flag.ExitOnError)
	file := fs.String("file", "", "JSON array of dishes; empty restores the latest snapshot")
	fs.Parse(args)

	store, err := storage.NewCatalogStore(cfg.CatalogSnapshotPath)
	if err != nil {
		return err
	}

	var dishes []dish.Dish
	if *file != "" {
		dishes, err = storage.LoadSeedFile(*file)
	} else {
		var version string
		version, err = store.Latest()
		if err == nil {
			dishes, err = store.Load(version)
		}
	}
	if err != nil {
		return err
	}

	return replaceCatalog(ctx, db, store, dishes)
}

func importCatalog(ctx context.Context, cfg *config.Config, db *database.DB, args []string) error {
	fs := flag.NewFlagSet("import-catalog", flag.ExitOnError)
	source := fs.String("source", "", "URL or file path of the HTML listing")
	classify := fs.Bool("classify", true, "Classify incomplete dishes with the configured LLM")
	fs.Parse(args)

	if *source == "" {
		return fmt.Errorf("-source is required")
	}

	var classifier *catalog.Classifier
	if *classify {
		gen, err := llm.NewFromConfig(ctx, cfg)
		switch {
		case errors.Is(err, llm.ErrNoProvider):
			logging.Warn().Msg("No LLM key configured, importing without classification")
		case err != nil:
			return err
		default:
			if closer, ok := gen.(llm.Closer); ok {
				defer closer.Close()
			}
			classifier = catalog.NewClassifier(gen, metrics.NewStore(db.SQL))
		}
	}

	importer := catalog.NewImporter(classifier)
	var (
		dishes []dish.Dish
		err    error
	)
	if strings.HasPrefix(*source, "http://") || strings.HasPrefix(*source, "https://") {
		dishes, err = importer.ImportURL(ctx, *source)
	} else {
		f, openErr := os.Open(*source)
		if openErr != nil {
			return fmt.Errorf("failed to open %s: %w", *source, openErr)
		}
		defer f.Close()
		dishes, err = importer.ImportHTML(ctx, f)
	}
	if err != nil {
		return err
	}
	if len(dishes) == 0 {
		return fmt.Errorf("no valid dishes found in %s", *source)
	}

	store, err := storage.NewCatalogStore(cfg.CatalogSnapshotPath)
	if err != nil {
		return err
	}
	return replaceCatalog(ctx, db, store, dishes)
}

// replaceCatalog swaps the live catalog and keeps a snapshot of it.
func replaceCatalog(ctx context.Context, db *database.DB, store *storage.CatalogStore, dishes []dish.Dish) error {
	if err := dish.NewRepository(db.SQL).ReplaceAll(ctx, dishes); err != nil {
		return err
	}

	version := storage.VersionAt(time.Now())
	if err := store.Save(version, dishes); err != nil {
		return err
	}
	removed, err := store.RemoveStaleVersions(5)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to prune catalog snapshots")
	}

	logging.Info().
		Int("dishes", len(dishes)).
		Str("snapshot", version).
		Int("pruned", removed).
		Msg("Catalog replaced")
	return nil
}

func metricsCleanup(ctx context.Context, db *database.DB, args []string) error {
	fs := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
	days := fs.Int("days", 30, "Keep records for the last N days")
	fs.Parse(args)

	affected, err := metrics.NewStore(db.SQL).Cleanup(ctx, *days)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Printf("Successfully removed %d old metric records.\n", affected)
	return nil
}
