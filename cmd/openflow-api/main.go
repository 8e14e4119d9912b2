package main

import (
	"fmt"
	"os"

	"openflow/internal/config"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	debug          bool
	addr           string
	migrateOnStart bool
	embeddedWorker bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:          "openflow-api",
	Short:        "OpenFlow form backend",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the public form endpoints, the admin API and the admin websocket.

Unless --worker=false is given, the submission dispatch worker runs in the
same process. Without a reachable Redis, dispatch runs in-process and rate
limits are kept in memory.`,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the submission dispatch worker",
	RunE:  runWorker,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Development logging and a default JWT secret (or OPENFLOW_DEBUG)")
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides ADDR)")
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "Apply migrations before serving")
	serveCmd.Flags().BoolVar(&embeddedWorker, "worker", true, "Run the dispatch worker in this process")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup builds the logger and loads the configuration. Flags win over the
// environment. strict enables the checks only the HTTP server needs.
func setup(strict bool) (*config.Config, *zap.Logger, error) {
	debugMode := debug || cast.ToBool(os.Getenv("OPENFLOW_DEBUG"))

	var (
		log *zap.Logger
		err error
	)
	if debugMode {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Read(log)
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}
	if debugMode {
		cfg.Debug = true
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if strict {
		if err := cfg.Validate(log); err != nil {
			return nil, log, err
		}
	}
	return cfg, log, nil
}
