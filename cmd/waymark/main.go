// Command waymark manages the local place journal cache: saved locations,
// reconciliation sweeps, and the background push of dirty rows.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/waymark-app/waymark/internal/config"
	"github.com/waymark-app/waymark/internal/geocode"
	"github.com/waymark-app/waymark/internal/location"
	"github.com/waymark-app/waymark/internal/push"
	"github.com/waymark-app/waymark/internal/reconcile"
	"github.com/waymark-app/waymark/internal/store"
)

var (
	flagConfig  string
	flagDB      string
	flagUser    string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "waymark",
	Short: "Offline-first place journal cache",
	Long: `waymark records named places and attaches them to journal entries while
fully offline. Writes land in a local SQLite database first and are pushed
to the remote service later.

The reconcile subcommands keep saved locations consistent with the entries
that reference them: merging duplicates, snapping loose GPS entries onto
saved places, and filling missing address hierarchy from the geocoder.`,
	SilenceUsage: true,
}

func main() {
	// A .env in the working directory supplies provider credentials during
	// development; absence is not an error.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ./waymark.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user ID (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(locationCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired components for one CLI invocation.
type app struct {
	cfg     *config.Config
	store   *store.Store
	repo    *location.Repository
	engine  *reconcile.Engine
	trigger *push.Trigger
	log     zerolog.Logger
}

// openApp loads config, opens the store, and wires the engine. The returned
// cleanup stops the push worker and closes the database.
func openApp() (*app, func(), error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagUser != "" {
		cfg.UserID = flagUser
	}
	if cfg.UserID == "" {
		return nil, nil, fmt.Errorf("user ID is required (--user or WAYMARK_USER_ID)")
	}

	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, nil, err
	}

	// The remote transport lives outside this core; the worker is wired
	// with a no-op so Notify contracts still hold locally.
	trigger := push.New(push.NopTransport{}, push.Config{Debounce: cfg.PushDebounce}, log)
	trigger.Start(context.Background())

	geocoder := geocode.NewHTTPClient(cfg.MapboxToken, cfg.FoursquareKey)

	engine := reconcile.New(s, geocoder, trigger, log)
	engine.SetGeocodeDelay(cfg.GeocodeDelay)

	a := &app{
		cfg:     cfg,
		store:   s,
		repo:    location.NewRepository(s, trigger, log),
		engine:  engine,
		trigger: trigger,
		log:     log,
	}
	cleanup := func() {
		trigger.Stop()
		_ = s.Close()
	}
	return a, cleanup, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local cache and pending sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		locs, err := a.store.ListAliveLocations(ctx, a.cfg.UserID)
		if err != nil {
			return err
		}
		dirtyLocs, dirtyEntries, err := a.store.DirtyCounts(ctx, a.cfg.UserID)
		if err != nil {
			return err
		}

		fmt.Printf("Database:        %s\n", a.store.Path())
		fmt.Printf("Saved locations: %d\n", len(locs))
		fmt.Printf("Pending push:    %d locations, %d entries\n", dirtyLocs, dirtyEntries)
		return nil
	},
}
