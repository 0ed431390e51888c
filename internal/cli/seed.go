package cli

import (
	"fmt"

	"echoes-history-service/internal/config"
	"echoes-history-service/internal/infra/memory"
	"echoes-history-service/internal/infra/postgres"
	"echoes-history-service/internal/logger"
	"github.com/spf13/cobra"
)

// NewSeedCmd loads YAML content fixtures into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load eras, events and quiz banks from a YAML file into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Mode)
			if err != nil {
				return err
			}
			defer log.Sync()

			if file == "" {
				file = cfg.Content.File
			}
			if file == "" {
				return fmt.Errorf("no content file: pass --file or set content.file")
			}
			content, err := memory.LoadContentFile(file)
			if err != nil {
				return err
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg, log); err != nil {
				return err
			}

			db := postgres.OpenBun(cfg.Postgres.URL)
			defer db.Close()
			res, err := postgres.Seed(cmd.Context(), db, content.Eras, content.Events, content.Quizzes)
			if err != nil {
				return err
			}
			log.Info("content seeded", "file", file, "eras", res.Eras, "events", res.Events, "questions", res.Questions)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML content file (defaults to content.file)")
	return cmd
}
