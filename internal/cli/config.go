package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/clustertls/internal/cli/helpers"
	"github.com/coral-mesh/clustertls/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
		Long: `Inspect the configuration clustertls would run with.

Configuration Priority:
  1. Command-line flags (highest)
  2. CLUSTERTLS_* environment variables
  3. Config file (--config, or clustertls.yaml in --dir)
  4. Built-in defaults`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSchemaCmd())

	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	var (
		format      string
		showSecrets bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after every layer has been applied.
Passphrases are masked unless --show-secrets is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.DocumentFormats); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := *cfg
			if !showSecrets {
				out = cfg.Redacted()
			}

			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(out, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatYAML, helpers.DocumentFormats)
	cmd.Flags().BoolVar(&showSecrets, config.FlagShowSecrets, false, "Print passphrases in clear")

	return cmd
}

// newConfigSchemaCmd creates the 'config schema' command.
func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
