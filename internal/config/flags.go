package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Flag names shared by the CLI and the flags layer.
const (
	FlagMode        = "mode"
	FlagDir         = "dir"
	FlagTruststore  = "truststore"
	FlagRootPass    = "rootPass"
	FlagStorePass   = "storePass"
	FlagClientPass  = "clientPass"
	FlagParallel    = "parallel"
	FlagLogLevel    = "log-level"
	FlagLogPretty   = "log-pretty"
	FlagConfig      = "config"
	FlagAskPass     = "ask-pass"
	FlagClient      = "client"
	FlagOutput      = "output"
	FlagShowSecrets = "show-secrets"
)

// MergeFromFlags applies every flag in fs that the user set explicitly.
// Flags absent from fs are ignored so commands can register a subset.
func MergeFromFlags(cfg *Config, fs *pflag.FlagSet) error {
	strs := map[string]*string{
		FlagMode:       &cfg.Mode,
		FlagDir:        &cfg.Dir,
		FlagTruststore: &cfg.Truststore,
		FlagRootPass:   &cfg.RootPass,
		FlagStorePass:  &cfg.StorePass,
		FlagClientPass: &cfg.ClientPass,
		FlagLogLevel:   &cfg.Log.Level,
	}
	for name, dst := range strs {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
		*dst = v
	}

	if fs.Lookup(FlagParallel) != nil && fs.Changed(FlagParallel) {
		v, err := fs.GetInt(FlagParallel)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", FlagParallel, err)
		}
		cfg.Parallelism = v
	}
	if fs.Lookup(FlagLogPretty) != nil && fs.Changed(FlagLogPretty) {
		v, err := fs.GetBool(FlagLogPretty)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", FlagLogPretty, err)
		}
		cfg.Log.Pretty = v
	}
	return nil
}
