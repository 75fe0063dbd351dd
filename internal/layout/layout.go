// Package layout maps provisioning targets to paths under the working root
// and answers "does this artifact exist and look right" without touching
// any toolchain.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/coral-mesh/clustertls/internal/constants"
)

// Layout resolves artifact paths under a working root.
type Layout struct {
	Root       string
	Truststore string
}

// New returns a layout rooted at root. A relative truststore name is placed
// under root; empty means the default shared truststore.
func New(root, truststore string) Layout {
	if root == "" {
		root = constants.DefaultDir
	}
	if truststore == "" {
		truststore = constants.DefaultTruststoreFile
	}
	if !filepath.IsAbs(truststore) {
		truststore = filepath.Join(root, truststore)
	}
	return Layout{Root: root, Truststore: truststore}
}

// AuthorityAlias returns the alias and file stem of the authority for name.
// The empty name is the shared authority.
func AuthorityAlias(name string) string {
	if name == "" {
		return constants.AuthorityPrefix
	}
	return constants.AuthorityPrefix + constants.AuthoritySepChar + name
}

// AuthorityFiles are the files backing one authority.
type AuthorityFiles struct {
	Name   string
	Alias  string
	Key    string
	Cert   string
	Serial string
	Lock   string
}

// NodeDir is the directory holding a node's artifacts.
func (l Layout) NodeDir(node string) string {
	return filepath.Join(l.Root, node)
}

// ClientDir is the directory holding client artifacts.
func (l Layout) ClientDir() string {
	return filepath.Join(l.Root, constants.ClientDir)
}

// Authority returns the files of the authority for name. Node and client
// authorities live in their target directory, the shared one at the root.
func (l Layout) Authority(name string) AuthorityFiles {
	dir := l.Root
	switch {
	case name == constants.ClientName:
		dir = l.ClientDir()
	case name != "":
		dir = l.NodeDir(name)
	}
	stem := filepath.Join(dir, AuthorityAlias(name))
	return AuthorityFiles{
		Name:   name,
		Alias:  AuthorityAlias(name),
		Key:    stem + constants.KeySuffix,
		Cert:   stem + constants.CertSuffix,
		Serial: stem + constants.SerialSuffix,
		Lock:   stem + constants.LockSuffix,
	}
}

// NodeFiles are the files of one node.
type NodeFiles struct {
	Dir      string
	Keystore string
	Staging  string
	Request  string
	Signed   string
	Exported string
}

// Node returns the files of node.
func (l Layout) Node(node string) NodeFiles {
	dir := l.NodeDir(node)
	stem := filepath.Join(dir, node)
	keystore := stem + constants.KeystoreSuffix
	return NodeFiles{
		Dir:      dir,
		Keystore: keystore,
		Staging:  keystore + constants.StagingSuffix,
		Request:  stem + constants.RequestSuffix,
		Signed:   stem + constants.SignedSuffix,
		Exported: stem + constants.CertSuffix,
	}
}

// IdentityFiles are the files of a bare-key identity.
type IdentityFiles struct {
	Dir     string
	Key     string
	Request string
	Cert    string
}

// Client returns the client identity files.
func (l Layout) Client() IdentityFiles {
	dir := l.ClientDir()
	stem := filepath.Join(dir, constants.ClientName)
	return IdentityFiles{
		Dir:     dir,
		Key:     stem + constants.KeySuffix,
		Request: stem + constants.RequestSuffix,
		Cert:    stem + constants.CertSuffix,
	}
}

// Artifacts lists the paths a run over nodes writes: the truststore and its
// lock, the shared authority files when shared is set, and the client and
// node directories. Directories are owned whole; the root itself is not
// listed.
func (l Layout) Artifacts(nodes []string, client, shared bool) []string {
	paths := []string{l.Truststore, l.Truststore + constants.LockSuffix}
	if shared {
		ca := l.Authority("")
		paths = append(paths, ca.Key, ca.Cert, ca.Serial, ca.Lock)
	}
	if client {
		paths = append(paths, l.ClientDir())
	}
	for _, node := range nodes {
		paths = append(paths, l.NodeDir(node))
	}
	return paths
}

// ValidateNodeName rejects names that cannot serve as a single directory
// and alias.
func ValidateNodeName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("node name must not be empty")
	case name == "." || name == "..":
		return fmt.Errorf("node name %q is not a usable directory name", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("node name %q must not contain path separators", name)
	case strings.EqualFold(name, constants.ClientName):
		return fmt.Errorf("node name %q is reserved for the client identity", name)
	case strings.HasPrefix(strings.ToLower(name), strings.ToLower(constants.AuthorityPrefix)):
		return fmt.Errorf("node name %q collides with authority aliases", name)
	case strings.EqualFold(name, constants.ConfigFile),
		strings.EqualFold(name, constants.DefaultTruststoreFile),
		strings.EqualFold(name, constants.DefaultTruststoreFile+constants.LockSuffix):
		return fmt.Errorf("node name %q collides with a file in the working root", name)
	case hasSuffixFold(name, constants.LockSuffix), hasSuffixFold(name, constants.StagingSuffix):
		return fmt.Errorf("node name %q ends in a reserved suffix", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("node name %q contains control characters", name)
		}
	}
	return nil
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

// ValidateNodes checks nodes with the package-level rules and also rejects
// names that would shadow this layout's truststore or its lock.
func (l Layout) ValidateNodes(nodes []string) error {
	if err := ValidateNodes(nodes); err != nil {
		return err
	}
	if filepath.Clean(filepath.Dir(l.Truststore)) != filepath.Clean(l.Root) {
		return nil
	}
	store := filepath.Base(l.Truststore)
	for _, node := range nodes {
		if strings.EqualFold(node, store) || strings.EqualFold(node, store+constants.LockSuffix) {
			return fmt.Errorf("node name %q collides with truststore %s", node, l.Truststore)
		}
	}
	return nil
}

// ValidateNodes checks every name and rejects case-insensitive duplicates,
// which would collide as aliases.
func ValidateNodes(nodes []string) error {
	seen := make(map[string]string, len(nodes))
	for _, node := range nodes {
		if err := ValidateNodeName(node); err != nil {
			return err
		}
		key := strings.ToLower(node)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("node %q duplicates %q", node, prev)
		}
		seen[key] = node
	}
	return nil
}
