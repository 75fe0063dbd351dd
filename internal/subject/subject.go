// Package subject builds the distinguished names used for authorities,
// node key pairs and the client signing request.
package subject

import (
	"crypto/x509/pkix"

	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/layout"
)

// Template holds the fixed DN components shared by every subject.
type Template struct {
	Country            string `yaml:"country" json:"country" env:"SUBJECT_COUNTRY"`
	Organization       string `yaml:"organization" json:"organization" env:"SUBJECT_ORGANIZATION"`
	OrganizationalUnit string `yaml:"organizational_unit" json:"organizational_unit" env:"SUBJECT_ORGANIZATIONAL_UNIT"`
	ClientCommonName   string `yaml:"client_common_name" json:"client_common_name" env:"SUBJECT_CLIENT_COMMON_NAME"`
}

// Default returns the built-in template.
func Default() Template {
	return Template{
		Country:            constants.DefaultCountry,
		Organization:       constants.DefaultOrganization,
		OrganizationalUnit: constants.DefaultOrganizationalUnit,
		ClientCommonName:   constants.DefaultClientCommonName,
	}
}

func (t Template) base(cn string) pkix.Name {
	name := pkix.Name{CommonName: cn}
	if t.Country != "" {
		name.Country = []string{t.Country}
	}
	if t.Organization != "" {
		name.Organization = []string{t.Organization}
	}
	if t.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{t.OrganizationalUnit}
	}
	return name
}

// Authority is the DN of the authority for name ("" is the shared one).
func (t Template) Authority(name string) pkix.Name {
	return t.base(layout.AuthorityAlias(name))
}

// Node is the DN of a node key pair.
func (t Template) Node(node string) pkix.Name {
	return t.base(node)
}

// Client is the DN of the client signing request. It carries the common
// name only.
func (t Template) Client() pkix.Name {
	cn := t.ClientCommonName
	if cn == "" {
		cn = constants.DefaultClientCommonName
	}
	return pkix.Name{CommonName: cn}
}
