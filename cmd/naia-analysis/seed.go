package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/naia-systems/naia-stack/internal/patterns"
	"github.com/naia-systems/naia-stack/internal/repository"
)

var seedFilePath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install the seed pattern library",
	Long: `Loads the YAML pattern library and installs any pattern not already
present, matched by name. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		seeds, err := patterns.LoadFile(seedFilePath)
		if err != nil {
			return err
		}

		repo, err := repository.NewPostgresRepository(cmd.Context(), cfg.Database.Postgres.ConnString())
		if err != nil {
			return fmt.Errorf("metadata store: %w", err)
		}
		defer repo.Close()

		created, err := patterns.Seed(cmd.Context(), repo, seeds, log)
		if err != nil {
			return err
		}
		log.Info("seeding complete", "installed", created, "total", len(seeds))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFilePath, "file", "seeds/patterns.yaml", "path to the seed pattern library")
}
