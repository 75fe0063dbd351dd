package toolchain

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/safe"
)

// Native implements Toolchain with crypto/x509, encrypted PKCS#8 keys and a
// JKS codec. It never shells out.
type Native struct {
	logger zerolog.Logger
	rand   io.Reader
	now    func() time.Time
}

var _ Toolchain = (*Native)(nil)

// NewNative creates the pure Go toolchain.
func NewNative(logger zerolog.Logger) *Native {
	return &Native{
		logger: logger.With().Str("toolchain", "native").Logger(),
		rand:   rand.Reader,
		now:    time.Now,
	}
}

func (n *Native) newKey(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = constants.RSAKeyBits
	}
	if bits != constants.RSAKeyBits {
		return nil, fmt.Errorf("unsupported key size %d, only RSA-%d is supported", bits, constants.RSAKeyBits)
	}
	key, err := rsa.GenerateKey(n.rand, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return key, nil
}

func (n *Native) randomSerial() (*big.Int, error) {
	serial, err := rand.Int(n.rand, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

func (n *Native) validity(days int) (time.Time, time.Time) {
	if days <= 0 {
		days = constants.ValidityDays
	}
	notBefore := n.now()
	return notBefore, notBefore.AddDate(0, 0, days)
}

// GenerateKey writes a new RSA key.
func (n *Native) GenerateKey(ctx context.Context, req KeyRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := n.newKey(req.Bits)
	if err != nil {
		return err
	}
	if !req.ReuseKey {
		keyPEM, err := EncodeKey(key, req.Passphrase)
		if err != nil {
			return err
		}
		if err := safe.WriteFileAtomic(req.KeyPath, keyPEM, 0o600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
	}

	n.logger.Debug().Str("path", req.KeyPath).Msg("Generated private key")
	return nil
}

// CreateSelfSigned writes an encrypted key and a self-signed CA certificate.
// The key lands before the certificate so a crash never leaves a certificate
// whose key is missing. With ReuseKey only the certificate is written.
func (n *Native) CreateSelfSigned(ctx context.Context, req SelfSignedRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		key *rsa.PrivateKey
		err error
	)
	if req.ReuseKey {
		key, err = readKey(req.KeyPath, req.Passphrase)
	} else {
		key, err = n.newKey(req.Bits)
	}
	if err != nil {
		return err
	}
	serial, err := n.randomSerial()
	if err != nil {
		return err
	}

	notBefore, notAfter := n.validity(req.Days)
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               req.Subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	certDER, err := x509.CreateCertificate(n.rand, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}

	keyPEM, err := EncodeKey(key, req.Passphrase)
	if err != nil {
		return err
	}
	if err := safe.WriteFileAtomic(req.KeyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	// #nosec G306: CA certificate is a public trust anchor.
	if err := safe.WriteFileAtomic(req.CertPath, EncodeCertificate(certDER), 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	n.logger.Debug().
		Str("subject", req.Subject.String()).
		Str("cert", req.CertPath).
		Msg("Created self-signed authority")
	return nil
}

// CreateRequest writes a CSR for an existing key file.
func (n *Native) CreateRequest(ctx context.Context, req CSRRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := readKey(req.KeyPath, req.Passphrase)
	if err != nil {
		return err
	}
	return n.writeRequest(key, req.Subject, req.CSRPath)
}

func (n *Native) writeRequest(key *rsa.PrivateKey, subject pkix.Name, csrPath string) error {
	csrDER, err := x509.CreateCertificateRequest(n.rand, &x509.CertificateRequest{
		Subject:            subject,
		SignatureAlgorithm: x509.SHA256WithRSA,
	}, key)
	if err != nil {
		return fmt.Errorf("failed to create signing request: %w", err)
	}
	csrPEM := pem.EncodeToMemory(&pem.Block{Type: BlockCertificateRequest, Bytes: csrDER})
	if err := safe.WriteFileAtomic(csrPath, csrPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write signing request: %w", err)
	}
	return nil
}

// SignRequest signs a CSR with the authority, SHA-256, using and advancing
// the authority's serial file.
func (n *Native) SignRequest(ctx context.Context, req SignRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	csr, err := readRequest(req.CSRPath)
	if err != nil {
		return err
	}
	if err := csr.CheckSignature(); err != nil {
		return fmt.Errorf("invalid signing request signature: %w", err)
	}

	caCert, err := readCertificate(req.CACertPath)
	if err != nil {
		return err
	}
	caKey, err := readKey(req.CAKeyPath, req.CAPassphrase)
	if err != nil {
		return err
	}
	if !caCert.IsCA {
		return fmt.Errorf("%s is not a CA certificate", req.CACertPath)
	}

	serial, err := NextSerial(req.SerialPath, n.rand)
	if err != nil {
		return err
	}

	notBefore, notAfter := n.validity(req.Days)
	template := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            csr.Subject,
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		KeyUsage:           x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:        []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	if ip := net.ParseIP(csr.Subject.CommonName); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else if csr.Subject.CommonName != "" {
		template.DNSNames = []string{csr.Subject.CommonName}
	}

	certDER, err := x509.CreateCertificate(n.rand, template, caCert, csr.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("failed to sign certificate: %w", err)
	}
	// #nosec G306: certificates are public.
	if err := safe.WriteFileAtomic(req.OutPath, EncodeCertificate(certDER), 0o644); err != nil {
		return fmt.Errorf("failed to write signed certificate: %w", err)
	}

	n.logger.Debug().
		Str("subject", csr.Subject.String()).
		Str("issuer", caCert.Subject.String()).
		Str("serial", serial.Text(16)).
		Msg("Signed certificate")
	return nil
}
