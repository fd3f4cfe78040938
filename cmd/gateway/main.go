package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-placement/internal/config"
	"github.com/mind-engage/mindengage-placement/internal/db"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
)

var (
	envFiles []string

	cfg config.Config
	log *logger.Logger

	rootCmd = &cobra.Command{
		Use:           "gateway",
		Short:         "CEFR adaptive placement test server and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load(envFiles...)
			l, err := logger.New(cfg.LogMode)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			log = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Sync()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before the environment (default .env)")
	rootCmd.AddCommand(serveCmd, calibrateCmd, importCmd, hashPasswordCmd, addUserCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore opens the configured database and ensures the schema.
func openStore(ctx context.Context) (*sql.DB, db.Driver, *exam.SQLStore, error) {
	drv, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return nil, "", nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	dbh, err := db.Open(ctx, drv, cfg.DBDSN)
	if err != nil {
		return nil, "", nil, fmt.Errorf("db open: %w", err)
	}
	return dbh, drv, exam.NewSQLStore(dbh, drv), nil
}
