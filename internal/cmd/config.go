package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateOnly bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if verr := cfg.Validate(); verr != nil && validateOnly {
			return fmt.Errorf("invalid config: %w", verr)
		} else if verr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", verr)
		}
		if validateOnly {
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		}

		view := *cfg
		view.Bot.Token = cfg.MaskedToken()
		if view.Audit.MongoURI != "" {
			view.Audit.MongoURI = "***"
		}
		out, err := yaml.Marshal(view)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.Flags().BoolVar(&validateOnly, "validate", false, "only validate and exit non-zero on errors")
}
