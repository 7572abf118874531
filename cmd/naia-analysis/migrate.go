package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

var (
	migratePath string
	migrateDown bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		m, err := migrate.New("file://"+migratePath, cfg.Database.Postgres.ConnString())
		if err != nil {
			return fmt.Errorf("failed to initialize migrations: %w", err)
		}
		defer m.Close()

		if migrateDown {
			err = m.Down()
		} else {
			err = m.Up()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration failed: %w", err)
		}

		version, dirty, _ := m.Version()
		log.Info("migrations complete", "version", version, "dirty", dirty)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migratePath, "migrations", "migrations", "path to migration files")
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll all migrations back instead of applying them")
}
