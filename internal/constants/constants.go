// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "clustertls.yaml"

	// EnvPrefix prefixes every environment override (CLUSTERTLS_ROOT_PASS, ...).
	EnvPrefix = "CLUSTERTLS_"

	DefaultDir = "."

	// DefaultTruststoreFile is the shared truststore at the working root.
	DefaultTruststoreFile = "generic-server-truststore.jks"

	// ClientDir holds the client identity and, in per-entity mode, the client authority.
	ClientDir = "client"

	// ClientName is both the client target name and its truststore alias.
	ClientName = "client"

	DefaultRootPass = "myRootPass"

	DefaultStorePass = "myKeyPass"

	// DefaultClientPass is accepted for compatibility and otherwise unused.
	DefaultClientPass = "myClientPass"

	DefaultCountry = "UK"

	DefaultOrganization = "Canonical"

	DefaultOrganizationalUnit = "TestCluster"

	// DefaultClientCommonName is the CN of the client signing request.
	DefaultClientCommonName = "cqlsh-client"
)
