package cli

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/clustertls/internal/assembler"
	"github.com/coral-mesh/clustertls/internal/cli/helpers"
	"github.com/coral-mesh/clustertls/internal/config"
	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/layout"
	"github.com/coral-mesh/clustertls/internal/logging"
	"github.com/coral-mesh/clustertls/internal/provision"
	"github.com/coral-mesh/clustertls/internal/toolchain"
)

// passPrompt selects the passphrases --ask-pass asks for.
type passPrompt int

const (
	askRoot passPrompt = 1 << iota
	askStore
)

// session is the effective configuration of one command invocation.
type session struct {
	cfg    *config.Config
	mode   provision.Mode
	layout layout.Layout
	logger zerolog.Logger
}

// loadConfig layers defaults, the config file, the environment and the flags
// the user set. Nothing is written.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	path, err := flags.GetString(config.FlagConfig)
	if err != nil {
		return nil, err
	}
	required := path != ""
	if !required {
		path = filepath.Join(configDir(flags), constants.ConfigFile)
	}

	cfg, err := config.NewLayeredLoader().Load(path, required)
	if err != nil {
		return nil, errors.Usagef("%v", err)
	}
	if err := config.MergeFromFlags(cfg, flags); err != nil {
		return nil, errors.Usagef("%v", err)
	}
	return cfg, nil
}

// configDir is where the default config file is looked up.
func configDir(flags *pflag.FlagSet) string {
	if flags.Changed(config.FlagDir) {
		if dir, err := flags.GetString(config.FlagDir); err == nil && dir != "" {
			return dir
		}
	}
	if dir := os.Getenv(constants.EnvPrefix + "DIR"); dir != "" {
		return dir
	}
	return constants.DefaultDir
}

// newSession loads and validates the configuration, prompting for the
// passphrases in ask when --ask-pass is set.
func newSession(cmd *cobra.Command, ask passPrompt) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	askPass, err := cmd.Flags().GetBool(config.FlagAskPass)
	if err != nil {
		return nil, err
	}
	if askPass && ask != 0 {
		read := helpers.NewPassphraseReader(cmd.InOrStdin(), cmd.ErrOrStderr())
		if ask&askRoot != 0 {
			if cfg.RootPass, err = read("Root CA passphrase: "); err != nil {
				return nil, err
			}
		}
		if ask&askStore != 0 {
			if cfg.StorePass, err = read("Keystore password: "); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Usagef("invalid configuration: %v", err)
	}
	mode, err := provision.ParseMode(cfg.Mode)
	if err != nil {
		return nil, errors.Usagef("%v", err)
	}

	return &session{
		cfg:    cfg,
		mode:   mode,
		layout: layout.New(cfg.Dir, cfg.Truststore),
		logger: logging.New(logging.Config{
			Level:  cfg.Log.Level,
			Pretty: cfg.Log.Pretty,
			Output: cmd.ErrOrStderr(),
		}),
	}, nil
}

func (s *session) toolchain() *toolchain.Native {
	return toolchain.NewNative(logging.Component(s.logger, "toolchain"))
}

func (s *session) orchestrator() *provision.Orchestrator {
	return provision.New(s.layout, s.toolchain(), s.cfg.Subject, s.logger)
}

func (s *session) options(nodes []string, client bool) provision.Options {
	return provision.Options{
		Mode:   s.mode,
		Nodes:  nodes,
		Client: client,
		Passphrases: assembler.Passphrases{
			Root:  s.cfg.RootPass,
			Store: s.cfg.StorePass,
		},
		Parallelism: s.cfg.Parallelism,
	}
}
