// Package config provides layered configuration for clustertls.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/coral-mesh/clustertls/internal/subject"
)

// Config is the effective configuration of a run.
type Config struct {
	// Mode is the authority topology: per-entity or shared.
	Mode string `yaml:"mode" json:"mode" env:"MODE" jsonschema:"enum=per-entity,enum=shared,default=per-entity"`
	// Dir is the working root that holds every artifact.
	Dir string `yaml:"dir" json:"dir" env:"DIR" jsonschema:"default=."`
	// Truststore is the shared truststore, relative to Dir unless absolute.
	Truststore string `yaml:"truststore" json:"truststore" env:"TRUSTSTORE" jsonschema:"default=generic-server-truststore.jks"`

	RootPass  string `yaml:"root_pass" json:"root_pass" env:"ROOT_PASS" jsonschema:"minLength=6"`
	StorePass string `yaml:"store_pass" json:"store_pass" env:"STORE_PASS" jsonschema:"minLength=6"`
	// ClientPass is accepted for compatibility and otherwise unused.
	ClientPass string `yaml:"client_pass,omitempty" json:"client_pass,omitempty" env:"CLIENT_PASS"`

	// Parallelism bounds how many targets are provisioned at once.
	Parallelism int `yaml:"parallelism" json:"parallelism" env:"PARALLELISM" jsonschema:"minimum=1,default=1"`

	Subject subject.Template `yaml:"subject" json:"subject"`
	Log     LogConfig        `yaml:"log" json:"log"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Pretty bool   `yaml:"pretty" json:"pretty" env:"LOG_PRETTY"`
}

const redacted = "********"

// Redacted returns a copy with passphrases masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.RootPass = mask(c.RootPass)
	c.StorePass = mask(c.StorePass)
	c.ClientPass = mask(c.ClientPass)
	return c
}

// Schema returns the JSON schema of Config.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "clustertls configuration"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
