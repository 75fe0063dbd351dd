package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/clustertls/internal/cli/helpers"
	"github.com/coral-mesh/clustertls/internal/config"
	"github.com/coral-mesh/clustertls/internal/errors"
)

func newStatusCmd() *cobra.Command {
	var (
		client bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "status [nodes...]",
		Short: "Show how far each target has been provisioned",
		Long: `Derive the provisioning state of each node, and of the client with --client,
from the artifacts on disk. Nothing is created or modified.

States, in order: NotStarted, AuthorityReady, IdentityIssued, KeystoreBuilt,
TrustAnchored, Done. DETAIL explains a target that cannot progress.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.ListFormats); err != nil {
				return err
			}
			if err := config.ValidateTargets(args, client); err != nil {
				return errors.Usagef("%v", err)
			}

			s, err := newSession(cmd, askStore)
			if err != nil {
				return err
			}
			statuses, err := s.orchestrator().Status(cmd.Context(), s.options(args, client))
			if err != nil {
				return err
			}

			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(statuses, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&client, config.FlagClient, false, "Include the client identity")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.ListFormats)

	return cmd
}
