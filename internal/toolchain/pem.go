package toolchain

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/youmark/pkcs8"

	"github.com/coral-mesh/clustertls/internal/safe"
)

// PEM block types.
const (
	BlockCertificate         = "CERTIFICATE"
	BlockCertificateRequest  = "CERTIFICATE REQUEST"
	BlockPrivateKey          = "PRIVATE KEY"
	BlockEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	BlockRSAPrivateKey       = "RSA PRIVATE KEY"
)

// ErrBadPassphrase is returned when an encrypted key cannot be decrypted.
var ErrBadPassphrase = errors.New("incorrect passphrase")

// EncodeKey returns key as PEM, PKCS#8 encrypted when passphrase is set.
func EncodeKey(key *rsa.PrivateKey, passphrase string) ([]byte, error) {
	if passphrase == "" {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: BlockPrivateKey, Bytes: der}), nil
	}

	der, err := pkcs8.MarshalPrivateKey(key, []byte(passphrase), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: BlockEncryptedPrivateKey, Bytes: der}), nil
}

// DecodeKey parses a PEM RSA key in PKCS#1, PKCS#8 or encrypted PKCS#8 form.
func DecodeKey(data []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode key PEM")
	}

	switch block.Type {
	case BlockEncryptedPrivateKey:
		if passphrase == "" {
			return nil, fmt.Errorf("key is encrypted: %w", ErrBadPassphrase)
		}
		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPassphrase, err)
		}
		return key, nil
	case BlockPrivateKey:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported key type %T, only RSA is supported", parsed)
		}
		return key, nil
	case BlockRSAPrivateKey:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unexpected PEM block %q in key file", block.Type)
	}
}

// EncodeCertificate returns der as a PEM certificate.
func EncodeCertificate(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: BlockCertificate, Bytes: der})
}

// DecodeCertificates parses every certificate in data. PEM input may hold a
// chain; anything that is not PEM is treated as a single DER certificate.
func DecodeCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != BlockCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, fmt.Errorf("no certificate found: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func readKey(path, passphrase string) (*rsa.PrivateKey, error) {
	data, err := safe.ReadFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return DecodeKey(data, passphrase)
}

func readCertificates(path string) ([]*x509.Certificate, error) {
	data, err := safe.ReadFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	return DecodeCertificates(data)
}

func readCertificate(path string) (*x509.Certificate, error) {
	certs, err := readCertificates(path)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

func readRequest(path string) (*x509.CertificateRequest, error) {
	data, err := safe.ReadFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing request: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != BlockCertificateRequest {
		return nil, fmt.Errorf("failed to decode signing request PEM")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing request: %w", err)
	}
	return csr, nil
}
