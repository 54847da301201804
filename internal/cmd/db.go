package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/optikakg/optika_tg/internal/store"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Compact the database file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openExisting()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Vacuum(commandContext(cmd)); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "vacuum done")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print row counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openExisting()
		if err != nil {
			return err
		}
		defer st.Close()
		c, err := st.Counts(commandContext(cmd))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "persons:    %d\n", c.Persons)
		fmt.Fprintf(out, "with phone: %d\n", c.WithPhone)
		fmt.Fprintf(out, "admins:     %d\n", c.Admins)
		fmt.Fprintf(out, "visions:    %d\n", c.Visions)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbVacuumCmd)
	dbCmd.AddCommand(dbStatsCmd)
}

func openExisting() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Database.Path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("database not found: %s", cfg.Database.Path)
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
