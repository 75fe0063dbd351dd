// Package cli implements the clustertls command line.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/clustertls/internal/config"
	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/provision"
)

// NewRootCmd builds the clustertls command tree. Run without a subcommand it
// provisions the nodes named as arguments.
func NewRootCmd() *cobra.Command {
	var (
		client   bool
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "clustertls [nodes...]",
		Short: "Provision TLS authorities, keystores and a shared truststore for a cluster",
		Long: `Provision the TLS material of a small cluster.

For every node address clustertls creates a root CA, a JKS keystore holding the
node key and its CA-signed certificate, and imports the CA into the shared
truststore generic-server-truststore.jks. With --client it also issues the
client identity (client/client.key, client/client.crt).

Modes:
  per-entity  every node and the client own an independent root CA (default)
  shared      one root CA at the working root signs every identity

The filesystem is the only state. Re-running with the same arguments does only
the work that is missing; artifacts that exist are never regenerated.`,
		Example: `  clustertls 10.0.0.1 10.0.0.2
  clustertls --client
  clustertls --mode shared --dir ./pki 10.0.0.1 10.0.0.2 --client`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd, args, client)
		},
	}

	pf := cmd.PersistentFlags()
	pf.String(config.FlagConfig, "", "Config file (default <dir>/"+constants.ConfigFile+" when present)")
	pf.String(config.FlagDir, constants.DefaultDir, "Working root that holds every artifact")
	pf.String(config.FlagTruststore, constants.DefaultTruststoreFile, "Shared truststore, relative to --dir unless absolute")
	pf.String(config.FlagMode, string(provision.PerEntity), "Authority topology (per-entity, shared)")
	pf.String(config.FlagRootPass, constants.DefaultRootPass, "Passphrase of the root CA keys")
	pf.String(config.FlagStorePass, constants.DefaultStorePass, "Password of the keystores and the truststore")
	pf.String(config.FlagClientPass, constants.DefaultClientPass, "Client CA passphrase (unused)")
	errors.Must(pf.MarkHidden(config.FlagClientPass), "hide --"+config.FlagClientPass)
	pf.String(config.FlagLogLevel, "info", "Log level (trace, debug, info, warn, error)")
	pf.Bool(config.FlagLogPretty, true, "Human-readable log output")
	pf.Bool(config.FlagAskPass, false, "Prompt for the passphrases instead of using flags or config")

	cmd.Flags().BoolVar(&client, config.FlagClient, false, "Also provision the client identity")
	cmd.Flags().IntVar(&parallel, config.FlagParallel, constants.DefaultParallelism, "Targets provisioned at once")

	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
