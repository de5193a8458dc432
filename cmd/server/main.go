/*
main.go - Application entry point

PURPOSE:
  Starts the production scheduling engine. Two subcommands:

  serve      Run the HTTP server with the background adjustment pass runner
  calibrate  Recalibrate the identifier period epoch ("today is period X")
             against the durable store, recorded in the audit trail

CONFIGURATION:
  Defaults < config file (--config engine.yaml) < PRODENGINE_* environment
  variables < flags. See config/config.go for the full surface.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the pass runner (waits for an in-flight pass)
  2. Stop accepting new connections, drain active requests (30s timeout)
  3. Close the database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server serve --db ./data/production.db

  # Run with in-memory database on another port
  ./server serve --db :memory: --port 3000

  # Pin today's period code to BC
  ./server calibrate --code BC --actor ops

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration surface
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warp/production-engine/api"
	"github.com/warp/production-engine/config"
	"github.com/warp/production-engine/engine"
	"github.com/warp/production-engine/orders"
	"github.com/warp/production-engine/store/sqlite"
)

func main() {
	cobra.OnInitialize(func() {
		viper.SetEnvPrefix("PRODENGINE")
		viper.AutomaticEnv()
	})

	root := &cobra.Command{
		Use:          "server",
		Short:        "Production identifier and queue scheduling engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file path (optional)")
	root.PersistentFlags().String("db", "", "SQLite database path (overrides config)")
	_ = viper.BindPFlag("flags.config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("flags.db", root.PersistentFlags().Lookup("db"))

	root.AddCommand(serveCmd(), calibrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("flags.config"))
	if err != nil {
		return nil, err
	}
	if db := viper.GetString("flags.db"); db != "" {
		cfg.DB.Path = db
	}
	return cfg, nil
}

// newService wires the store and service from config.
func newService(cfg *config.Config) (*orders.Service, *sqlite.Store, error) {
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	service := orders.NewService(store, orders.Options{
		Codec:        cfg.Codec(),
		Scoring:      cfg.ScoringConfig(),
		Capacity:     cfg.CapacityConfig(),
		Adjustment:   cfg.AdjustmentConfig(),
		StoreTimeout: cfg.StoreTimeout(),
	})
	return service, store, nil
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port := viper.GetInt("flags.port"); port != 0 {
				cfg.Server.Port = port
			}

			service, store, err := newService(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runner := api.NewPassRunner(service, cfg.PassInterval())
			runner.Start()
			defer runner.Stop()

			handler := api.NewHandler(service)
			router := api.NewRouter(handler)

			// No WriteTimeout: the SSE stream holds its response open
			// indefinitely.
			server := &http.Server{
				Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:     router,
				ReadTimeout: 15 * time.Second,
				IdleTimeout: 60 * time.Second,
			}

			go func() {
				log.Printf("Server starting on http://localhost:%d", cfg.Server.Port)
				log.Printf("API available at http://localhost:%d/api", cfg.Server.Port)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("Server failed: %v", err)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Println("Shutting down server...")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			log.Println("Server stopped")
			return nil
		},
	}
	cmd.Flags().Int("port", 0, "HTTP server port (overrides config)")
	_ = viper.BindPFlag("flags.port", cmd.Flags().Lookup("port"))
	return cmd
}

// =============================================================================
// CALIBRATE
// =============================================================================

func calibrateCmd() *cobra.Command {
	var codeArg, asOfArg, actorArg string

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Recalibrate the identifier period epoch",
		Long: `Derives the epoch that makes the given day's period code equal to --code
and records the run in the calibration audit trail. The printed epoch must be
copied into period.epoch in the configuration to survive a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			asOf := engine.Today()
			if asOfArg != "" {
				if asOf, err = engine.ParseDay(asOfArg); err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
			}

			service, store, err := newService(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := service.Calibrate(cmd.Context(), asOf, engine.PeriodCode(codeArg), actorArg)
			if err != nil {
				return err
			}

			fmt.Printf("Calibrated: period %s as of %s\n", run.RequestedCode, run.AsOf)
			fmt.Printf("  previous epoch: %s\n", run.PreviousEpoch.Format("2006-01-02"))
			fmt.Printf("  new epoch:      %s\n", run.NewEpoch.Format("2006-01-02"))
			fmt.Printf("Set period.epoch to %s in the configuration to persist this.\n",
				run.NewEpoch.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().StringVar(&codeArg, "code", "", "period code for the day, two letters A-Z (required)")
	cmd.Flags().StringVar(&asOfArg, "as-of", "", "calibration day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&actorArg, "actor", "", "who is running the calibration")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}
