package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/optikakg/optika_tg/internal/backup"
	"github.com/optikakg/optika_tg/internal/config"
	"github.com/optikakg/optika_tg/internal/store"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a database backup and exit",
	Long: `Create a consistent copy of the database in the backup directory.

Old backups beyond backup.keep are removed afterwards.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := createBackup(cmd, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backup created: %s\n", path)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc := backup.NewService(cfg.Database.Path, cfg.Backup.Dir, cfg.Backup.Keep, nil)
		list, err := svc.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "no backups")
			return nil
		}
		for _, p := range list {
			fmt.Fprintln(out, filepath.Base(p))
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the database with the latest backup",
	Long: `Replace the database file with the latest backup.

The bot must be stopped; a running instance keeps the old file open.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc := backup.NewService(cfg.Database.Path, cfg.Backup.Dir, cfg.Backup.Keep, nil)
		restored, err := svc.Restore()
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored from: %s\n", filepath.Base(restored))
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}

func createBackup(cmd *cobra.Command, cfg *config.Config) (string, error) {
	// store.Open would create an empty database
	if _, err := os.Stat(cfg.Database.Path); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", backup.ErrNoDatabase, cfg.Database.Path)
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return "", fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	svc := backup.NewService(cfg.Database.Path, cfg.Backup.Dir, cfg.Backup.Keep, st)
	return svc.Create(commandContext(cmd))
}
