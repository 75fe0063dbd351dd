// Package assembler builds node keystores and maintains the shared
// truststore.
package assembler

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/clustertls/internal/authority"
	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/fslock"
	"github.com/coral-mesh/clustertls/internal/issuer"
	"github.com/coral-mesh/clustertls/internal/layout"
	"github.com/coral-mesh/clustertls/internal/subject"
	"github.com/coral-mesh/clustertls/internal/toolchain"
)

// Passphrases protect the authority key and the stores.
type Passphrases struct {
	Root  string
	Store string
}

// Assembler builds keystores and adds truststore entries.
type Assembler struct {
	layout   layout.Layout
	stores   toolchain.KeyStore
	issuer   *issuer.Issuer
	subjects subject.Template
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*fslock.Lock
}

// New creates an assembler.
func New(l layout.Layout, stores toolchain.KeyStore, iss *issuer.Issuer, subjects subject.Template, logger zerolog.Logger) *Assembler {
	return &Assembler{
		layout:   l,
		stores:   stores,
		issuer:   iss,
		subjects: subjects,
		logger:   logger,
		locks:    make(map[string]*fslock.Lock),
	}
}

func (a *Assembler) storeLock(path string) *fslock.Lock {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.locks[path]; ok {
		return l
	}
	l := fslock.ForArtifact(path)
	a.locks[path] = l
	return l
}

// KeystoreState classifies a node's final keystore. Present means it opens
// with storePass and holds the node's key entry with a chain up to its
// authority plus the authority's trusted entry.
func (a *Assembler) KeystoreState(ctx context.Context, node, authorityAlias, storePass string) (layout.Presence, error) {
	path := a.layout.Node(node).Keystore
	switch layout.CheckNonEmpty(path) {
	case layout.Missing:
		return layout.Missing, nil
	case layout.Malformed:
		return layout.Malformed, fmt.Errorf("keystore %s is not a regular non-empty file", path)
	}

	entries, err := a.stores.Entries(ctx, path, storePass)
	if err != nil {
		return layout.Malformed, fmt.Errorf("keystore %s cannot be read: %w", path, err)
	}
	var keyOK, caOK bool
	for _, e := range entries {
		switch {
		case strings.EqualFold(e.Alias, node):
			keyOK = e.Kind == toolchain.PrivateKeyEntry && e.ChainLength >= 2
		case strings.EqualFold(e.Alias, authorityAlias):
			caOK = e.Kind == toolchain.TrustedCertEntry
		}
	}
	if !keyOK || !caOK || len(entries) != 2 {
		return layout.Malformed, fmt.Errorf("keystore %s is incomplete: want entries %s and %s, found %d", path, node, authorityAlias, len(entries))
	}
	return layout.Present, nil
}

// BuildNodeKeystore assembles <node>/<node>.jks signed by ca. The store is
// built at a staging path and renamed into place only once complete, so the
// final file either does not exist or is whole. An existing complete
// keystore is left alone; an existing broken one is an error.
func (a *Assembler) BuildNodeKeystore(ctx context.Context, node string, ca *authority.Authority, pass Passphrases) (string, error) {
	files := a.layout.Node(node)
	logger := a.logger.With().Str("node", node).Logger()

	state, err := a.KeystoreState(ctx, node, ca.Alias, pass.Store)
	switch {
	case state == layout.Present:
		logger.Info().Str("keystore", files.Keystore).Msg("Keystore already exists, skipping")
		return files.Keystore, nil
	case err != nil:
		return "", fmt.Errorf("refusing to rebuild: %w", err)
	}

	if err := os.MkdirAll(files.Dir, 0o755); err != nil { // #nosec G301 - holds public certificates.
		return "", fmt.Errorf("failed to create node directory: %w", err)
	}
	if layout.Exists(files.Staging) {
		logger.Warn().Str("staging", files.Staging).Msg("Discarding keystore left by an interrupted run")
		if err := os.Remove(files.Staging); err != nil {
			return "", fmt.Errorf("failed to remove stale staging keystore: %w", err)
		}
	}
	defer errors.DeferRemove(logger, files.Staging)

	logger.Info().Str("keystore", files.Keystore).Msg("Generating keystore")
	err = a.stores.GenerateKeyPair(ctx, toolchain.KeyPairRequest{
		StorePath: files.Staging,
		Alias:     node,
		Subject:   a.subjects.Node(node),
		Bits:      constants.RSAKeyBits,
		Days:      constants.ValidityDays,
		StorePass: pass.Store,
	})
	if err != nil {
		return "", errors.Tool("genkeypair", files.Staging, err)
	}

	if err := a.issuer.IssueFromKeystore(ctx, files.Staging, node, pass.Store, ca, pass.Root, files.Signed); err != nil {
		return "", err
	}

	logger.Info().Str("alias", ca.Alias).Msg("Importing root CA into keystore")
	if err := a.stores.ImportCertificate(ctx, files.Staging, ca.Alias, ca.CertPath, pass.Store); err != nil {
		return "", errors.Tool("importcert", files.Staging, err)
	}
	logger.Info().Str("alias", node).Msg("Importing signed certificate into keystore")
	if err := a.stores.ImportCertificate(ctx, files.Staging, node, files.Signed, pass.Store); err != nil {
		return "", errors.Tool("importcert", files.Staging, err)
	}

	if err := os.Rename(files.Staging, files.Keystore); err != nil {
		return "", fmt.Errorf("failed to move keystore into place: %w", err)
	}
	logger.Info().Str("keystore", files.Keystore).Msg("Keystore complete")
	return files.Keystore, nil
}

// EnsureTrustEntry imports certPath into the truststore under alias unless
// the alias is already there. The check and the import happen under the
// truststore lock. It reports whether an entry was added.
func (a *Assembler) EnsureTrustEntry(ctx context.Context, truststore, alias, certPath, passphrase string) (bool, error) {
	logger := a.logger.With().Str("truststore", truststore).Str("alias", alias).Logger()

	added := false
	err := a.storeLock(truststore).With(ctx, func() error {
		found, err := a.stores.Contains(ctx, truststore, alias, passphrase)
		if err != nil {
			return errors.Tool("list", truststore, err)
		}
		if found {
			logger.Info().Msg("Certificate already in truststore, skipping import")
			return nil
		}

		logger.Info().Str("cert", certPath).Msg("Importing certificate into truststore")
		if err := a.stores.ImportCertificate(ctx, truststore, alias, certPath, passphrase); err != nil {
			return errors.Tool("importcert", truststore, err)
		}
		added = true
		return nil
	})
	return added, err
}

// ExportCertificate writes the certificate under alias in keystorePath to
// outPath as PEM. An existing PEM certificate at outPath is kept.
func (a *Assembler) ExportCertificate(ctx context.Context, keystorePath, alias, storePass, outPath string) error {
	logger := a.logger.With().Str("alias", alias).Logger()

	switch layout.CheckPEM(outPath, toolchain.BlockCertificate) {
	case layout.Present:
		logger.Info().Str("cert", outPath).Msg("Certificate already exported, skipping")
		return nil
	case layout.Malformed:
		return fmt.Errorf("%s exists but is not a certificate, refusing to overwrite", outPath)
	}

	logger.Info().Str("keystore", keystorePath).Str("cert", outPath).Msg("Exporting certificate")
	return errors.Tool("exportcert", keystorePath, a.stores.ExportCertificate(ctx, keystorePath, alias, storePass, outPath))
}
