package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignatzorin/freight-escrow/internal/config"
	"github.com/ignatzorin/freight-escrow/internal/db"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("dir", "", "каталог миграций, по умолчанию MIGRATIONS_PATH")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить SQL миграции к DATABASE_URL",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage != config.StoragePostgres {
		return fmt.Errorf("migrate: нужен STORAGE=postgres, сейчас %q", cfg.Storage)
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsPath
	}
	log := commandLogger(cmd, cfg.LogLevel)

	conn, err := db.NewPostgres(cmd.Context(), cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer conn.Close()

	applied, err := db.RunMigrations(cmd.Context(), conn, dir, log)
	if err != nil {
		return err
	}
	for _, name := range applied {
		printf(cmd, "%s\n", name)
	}
	printf(cmd, "применено миграций: %d\n", len(applied))
	return nil
}
