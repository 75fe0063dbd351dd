// Package issuer produces CA-signed identities: a bare key file signed into a
// certificate, or a signing request drawn from a key held in a keystore.
package issuer

import (
	"context"
	"crypto/x509/pkix"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/clustertls/internal/authority"
	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/layout"
	"github.com/coral-mesh/clustertls/internal/toolchain"
)

// Tools is the subset of the toolchain the issuer drives.
type Tools interface {
	toolchain.KeyGenerator
	toolchain.RequestSigner
	CertificateRequest(ctx context.Context, storePath, alias, storePass, csrPath string) error
}

// Identity names a bare-key identity: <Dir>/<Name>.{key,csr,crt}.
type Identity struct {
	Name    string
	Dir     string
	Subject pkix.Name
}

// KeyPath is the identity's private key.
func (id Identity) KeyPath() string {
	return filepath.Join(id.Dir, id.Name+constants.KeySuffix)
}

// RequestPath is the transient signing request.
func (id Identity) RequestPath() string {
	return filepath.Join(id.Dir, id.Name+constants.RequestSuffix)
}

// CertPath is the signed certificate.
func (id Identity) CertPath() string {
	return filepath.Join(id.Dir, id.Name+constants.CertSuffix)
}

// Issuer issues identities signed by an authority.
type Issuer struct {
	tools  Tools
	logger zerolog.Logger
}

// New creates an issuer.
func New(tools Tools, logger zerolog.Logger) *Issuer {
	return &Issuer{tools: tools, logger: logger}
}

// IssueIdentity makes sure id has a key and a certificate signed by a. It
// does nothing when both exist. An existing key is reused rather than
// replaced. The returned path is the certificate.
func (i *Issuer) IssueIdentity(ctx context.Context, id Identity, a *authority.Authority, caPassphrase string) (string, error) {
	logger := i.logger.With().Str("identity", id.Name).Logger()
	keyPath, certPath := id.KeyPath(), id.CertPath()

	key := layout.CheckPEM(keyPath, toolchain.BlockPrivateKey, toolchain.BlockRSAPrivateKey, toolchain.BlockEncryptedPrivateKey)
	cert := layout.CheckPEM(certPath, toolchain.BlockCertificate)
	switch {
	case key == layout.Present && cert == layout.Present:
		logger.Info().Str("cert", certPath).Msg("Certificate already exists, skipping issuance")
		return certPath, nil
	case key == layout.Malformed || cert != layout.Missing:
		return "", fmt.Errorf("identity %s is unusable, refusing to overwrite: key is %s and certificate is %s", id.Name, key, cert)
	}

	if err := os.MkdirAll(id.Dir, 0o755); err != nil { // #nosec G301 - holds public certificates.
		return "", fmt.Errorf("failed to create identity directory: %w", err)
	}

	if key == layout.Missing {
		logger.Info().Str("key", keyPath).Msg("Creating private key")
		err := i.tools.GenerateKey(ctx, toolchain.KeyRequest{KeyPath: keyPath, Bits: constants.RSAKeyBits})
		if err != nil {
			return "", errors.Tool("genrsa", keyPath, err)
		}
	}

	csrPath := id.RequestPath()
	defer errors.DeferRemove(logger, csrPath)

	logger.Info().Str("csr", csrPath).Msg("Creating signing request")
	err := i.tools.CreateRequest(ctx, toolchain.CSRRequest{
		KeyPath: keyPath,
		Subject: id.Subject,
		CSRPath: csrPath,
	})
	if err != nil {
		return "", errors.Tool("req", csrPath, err)
	}

	if err := i.sign(ctx, logger, csrPath, a, caPassphrase, certPath); err != nil {
		return "", err
	}
	return certPath, nil
}

// IssueFromKeystore signs a request for the key held under alias in the
// keystore and writes the certificate to certPath. The request sits next to
// certPath and is removed afterwards.
func (i *Issuer) IssueFromKeystore(ctx context.Context, keystorePath, alias, storePass string, a *authority.Authority, caPassphrase, certPath string) error {
	logger := i.logger.With().Str("identity", alias).Logger()
	csrPath := strings.TrimSuffix(certPath, filepath.Ext(certPath)) + constants.RequestSuffix
	defer errors.DeferRemove(logger, csrPath)

	logger.Info().Str("csr", csrPath).Msg("Creating signing request from keystore")
	if err := i.tools.CertificateRequest(ctx, keystorePath, alias, storePass, csrPath); err != nil {
		return errors.Tool("certreq", keystorePath, err)
	}
	return i.sign(ctx, logger, csrPath, a, caPassphrase, certPath)
}

// sign runs under the authority lock since the key and serial file are shared
// by every target of a shared authority.
func (i *Issuer) sign(ctx context.Context, logger zerolog.Logger, csrPath string, a *authority.Authority, caPassphrase, certPath string) error {
	logger.Info().Str("authority", a.Alias).Str("cert", certPath).Msg("Signing certificate")
	return a.WithLock(ctx, func() error {
		err := i.tools.SignRequest(ctx, toolchain.SignRequest{
			CSRPath:      csrPath,
			CACertPath:   a.CertPath,
			CAKeyPath:    a.KeyPath,
			CAPassphrase: caPassphrase,
			SerialPath:   a.SerialPath,
			Days:         constants.ValidityDays,
			OutPath:      certPath,
		})
		return errors.Tool("x509 -req", certPath, err)
	})
}
