// Package cmd holds the command line surface of the bot binary.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/optikakg/optika_tg/internal/config"
)

var (
	cfgFile string

	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by the main package with ldflags values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd starts the bot when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "optika-bot",
	Short: "Telegram bot of the optical shop",
	Long: `Telegram bot of the optical shop: client registration, prescriptions,
broadcasts and the owner dev panel.

Without a subcommand the bot is started.`,
	SilenceUsage: true,
	RunE:         runBot,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml or ./config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the file given by --config and the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
