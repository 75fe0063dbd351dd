package config

import (
	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/subject"
)

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Mode:        "per-entity",
		Dir:         constants.DefaultDir,
		Truststore:  constants.DefaultTruststoreFile,
		RootPass:    constants.DefaultRootPass,
		StorePass:   constants.DefaultStorePass,
		ClientPass:  constants.DefaultClientPass,
		Parallelism: constants.DefaultParallelism,
		Subject:     subject.Default(),
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}
