package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/clustertls/internal/cli/helpers"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/safe"
)

func newListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list <store>",
		Short: "List the entries of a keystore or truststore",
		Long: `List every alias of a JKS keystore or truststore with its entry type,
subject, issuer, expiry and certificate fingerprint.

A relative path is resolved against --dir.`,
		Example: `  clustertls list generic-server-truststore.jks
  clustertls list 10.0.0.1/10.0.0.1.jks -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.ListFormats); err != nil {
				return err
			}

			s, err := newSession(cmd, askStore)
			if err != nil {
				return err
			}

			path := args[0]
			if !filepath.IsAbs(path) {
				path = filepath.Join(s.cfg.Dir, path)
			}
			if !safe.IsRegularFile(path) {
				return errors.Usagef("store %s does not exist", path)
			}

			entries, err := s.toolchain().Entries(cmd.Context(), path, s.cfg.StorePass)
			if err != nil {
				return err
			}

			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(entries, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.ListFormats)

	return cmd
}
