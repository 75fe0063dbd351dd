package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/clustertls/internal/cli/helpers"
	"github.com/coral-mesh/clustertls/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if format == "" {
				cmd.Printf("clustertls version %s\n", info.Version)
				cmd.Printf("Git commit: %s\n", info.GitCommit)
				cmd.Printf("Build date: %s\n", info.BuildDate)
				cmd.Printf("Go version: %s\n", info.GoVersion)
				return nil
			}
			if err := helpers.ValidateFormat(format, helpers.DocumentFormats); err != nil {
				return err
			}
			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(info, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, "", helpers.DocumentFormats)

	return cmd
}
