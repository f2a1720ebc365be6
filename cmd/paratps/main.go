package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/paratps/internal/agent"
	"github.com/ethpandaops/paratps/internal/migrate"
	"github.com/ethpandaops/paratps/internal/version"
)

var (
	cfgFile    string
	logLevel   string
	sourceType string
	exitOnDone bool
	dsn        string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paratps",
		Short: "Streaming parachain throughput aggregator",
		Long: `paratps consumes per-block parachain telemetry, keeps a sliding
window per chain and publishes windowed, smoothed and pooled
transactions-per-second figures with a confidence score.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file (defaults are used when empty)",
	)
	cmd.Flags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)
	cmd.Flags().StringVar(
		&sourceType, "source", "",
		"override source type (stream, mock, replay)",
	)
	cmd.Flags().BoolVar(
		&exitOnDone, "exit-on-done", false,
		"exit once the source delivers no more updates (e.g. end of replay)",
	)

	cmd.AddCommand(versionCmd(), migrateCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse schema",
	}

	cmd.PersistentFlags().StringVar(
		&dsn, "dsn", "",
		"ClickHouse DSN, e.g. clickhouse://localhost:9000?database=paratps",
	)

	if err := cmd.MarkPersistentFlagRequired("dsn"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate.New(newLogger(), dsn).Up(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate.New(newLogger(), dsn).Down(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				v, dirty, err := migrate.New(newLogger(), dsn).Status(cmd.Context())
				if err != nil {
					return err
				}

				fmt.Printf("version: %d, dirty: %t\n", v, dirty)

				return nil
			},
		},
	)

	return cmd
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return log
}

func loadConfig() (*agent.Config, error) {
	if cfgFile == "" {
		return agent.DefaultConfig(), nil
	}

	return agent.LoadConfig(cfgFile)
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override the config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if sourceType != "" {
		cfg.Source.Type = sourceType
	}

	if exitOnDone {
		cfg.ExitOnSourceDone = true
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.WithField("version", version.Full()).Info("Starting paratps")

	if err := a.Start(ctx); err != nil {
		// Release whatever already started.
		return errors.Join(fmt.Errorf("starting agent: %w", err), a.Stop())
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	log.Info("Shutting down paratps")

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")

		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}
