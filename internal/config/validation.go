package config

import (
	"fmt"

	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/layout"
)

// ValidatePassphrase enforces the JKS minimum length, which also applies to
// the authority key so one password can serve both.
func ValidatePassphrase(pass string) error {
	if len(pass) < constants.MinPassphraseLength {
		return fmt.Errorf("must be at least %d characters", constants.MinPassphraseLength)
	}
	return nil
}

// ValidateTargets checks the positional node list of a provisioning run.
// At least one node is required unless the client is requested.
func ValidateTargets(nodes []string, client bool) error {
	if len(nodes) == 0 && !client {
		return fmt.Errorf("at least one node address is required unless --client is set")
	}
	return layout.ValidateNodes(nodes)
}
