package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitbaso/Arindu/internal/analyzer"
	"github.com/bitbaso/Arindu/internal/archiver"
	"github.com/bitbaso/Arindu/internal/config"
	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/bitbaso/Arindu/internal/generator"
	"github.com/bitbaso/Arindu/internal/populator"
	"github.com/bitbaso/Arindu/internal/scheduler"
	"github.com/bitbaso/Arindu/internal/statement"
	"github.com/bitbaso/Arindu/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

// setup configures logging, loads the .env file and reads the configuration
func setup() (*logrus.Logger, *config.Config) {
	logger := utils.SetupLogging(logLevel)
	utils.LoadEnvironmentVariables(envFile, logger)

	cfg, err := config.Load(config.NewViper(cfgFile))
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}
	return logger, cfg
}

func newManager(cfg *config.Config, logger *logrus.Logger) *archiver.Manager {
	manager := archiver.NewManager(connector.MySQLFactory{Logger: logger}, statement.NewBuilder(cfg.LiteralValues), logger)
	manager.OrderByDependencies = cfg.OrderByDependencies
	if cfg.LiteralValues {
		logger.Warn("literal_values is enabled, values are inlined into SQL text")
	}
	return manager
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	var once bool

	rootCmd := &cobra.Command{
		Use:   "arindu",
		Short: "Moves aged rows from live MySQL tables into archive tables",
		Long: `Arindu

Periodically copies rows older than a configured number of days from a
source table into a mirrored table on an archive database, deletes them
from the source in bounded batches and optimizes both tables.`,
		Run: func(cmd *cobra.Command, args []string) {
			logger, cfg := setup()
			manager := newManager(cfg, logger)

			ctx, stop := signalContext()
			defer stop()

			if once {
				ok, results := manager.ExecuteArchive(ctx, cfg.Tables)
				utils.PrintSummary(os.Stdout, results)
				if !ok {
					stop()
					os.Exit(1)
				}
				return
			}

			s := scheduler.New(cfg.LoopInterval(), func(ctx context.Context) bool {
				ok, _ := manager.ExecuteArchive(ctx, cfg.Tables)
				return ok
			}, logger)
			if err := s.Run(ctx); err != nil {
				logger.Errorf("Scheduler failed: %v", err)
				stop()
				os.Exit(1)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to the configuration file (default: arindu.yaml)")
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVarP(&once, "once", "o", false, "Run a single archive cycle and exit")

	rootCmd.AddCommand(newSeedCommand(), newInspectCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newSeedCommand() *cobra.Command {
	var (
		table string
		rows  int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert synthetic rows into a configured source table",
		Run: func(cmd *cobra.Command, args []string) {
			logger, cfg := setup()

			tc, ok := cfg.FindTable(table)
			if !ok {
				logger.Errorf("Table %s is not configured", table)
				os.Exit(1)
			}

			ctx := context.Background()
			db, err := connector.MySQLFactory{Logger: logger}.Open(ctx, tc.SourceConnectionString)
			if err != nil {
				logger.Errorf("Failed to connect to database: %v", err)
				os.Exit(1)
			}
			defer db.Disconnect()

			dbPopulator := populator.NewDatabasePopulator(
				db,
				analyzer.NewSchemaAnalyzer(db, logger),
				generator.NewDataGenerator(tc.DateColumnName, logger),
				logger,
			)
			if _, err := dbPopulator.PopulateTable(ctx, tc.SchemaName, tc.TableName, rows); err != nil {
				logger.Errorf("Failed to populate table %s: %v", table, err)
				db.Disconnect()
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "Configured table to populate")
	cmd.Flags().IntVarP(&rows, "rows", "r", 1000, "Number of rows to insert")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show primary keys and eligible row counts of configured tables",
		Run: func(cmd *cobra.Command, args []string) {
			logger, cfg := setup()

			ctx, stop := signalContext()
			defer stop()

			inspections := newManager(cfg, logger).Inspect(ctx, cfg.Tables)
			utils.PrintInspection(os.Stdout, inspections)
		},
	}
}
