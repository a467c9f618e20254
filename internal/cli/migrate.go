package cli

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/mezamarco14/resu-sistem/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down>",
	Short:     "Apply or roll back the report database schema",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url is not configured")
		}

		conn, err := db.Open(cmd.Context(), cfg.Database.URL, 1)
		if err != nil {
			return err
		}
		defer conn.Close()

		m, err := db.NewMigrator(conn)
		if err != nil {
			return err
		}

		switch args[0] {
		case "up":
			err = m.Up()
		case "down":
			err = m.Down()
		default:
			return fmt.Errorf("unknown direction %q, want up or down", args[0])
		}
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("schema already up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", args[0], err)
		}

		version, dirty, _ := m.Version()
		log.Info().Uint("version", version).Bool("dirty", dirty).Str("direction", args[0]).Msg("migration applied")
		return nil
	},
}
