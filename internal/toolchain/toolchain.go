// Package toolchain defines the four capability contracts the provisioning
// engine depends on (key generation, self-signed authorities, signing
// requests, alias-addressed certificate stores) and a pure Go implementation
// of them.
//
// Every operation is file based: inputs and outputs are paths, mirroring how
// an openssl/keytool pipeline would be driven. That keeps the engine agnostic
// of the implementation and lets tests substitute a recording fake.
package toolchain

import (
	"context"
	"crypto/x509/pkix"
	"time"
)

// KeyRequest describes a bare private key to generate.
type KeyRequest struct {
	KeyPath string
	Bits    int
	// Passphrase encrypts the key when non-empty.
	Passphrase string
}

// KeyGenerator writes new RSA private keys.
type KeyGenerator interface {
	GenerateKey(ctx context.Context, req KeyRequest) error
}

// SelfSignedRequest describes a root authority to create.
type SelfSignedRequest struct {
	KeyPath    string
	CertPath   string
	Subject    pkix.Name
	Bits       int
	Days       int
	Passphrase string
	// ReuseKey signs the certificate with the key already at KeyPath, which
	// must decrypt with Passphrase. The key file is not rewritten.
	ReuseKey bool
}

// CertificateCreator creates a private key and a self-signed CA certificate
// in one step, or only the certificate for an existing key.
type CertificateCreator interface {
	CreateSelfSigned(ctx context.Context, req SelfSignedRequest) error
}

// CSRRequest describes a signing request built from a bare key file.
type CSRRequest struct {
	KeyPath    string
	Passphrase string
	Subject    pkix.Name
	CSRPath    string
}

// SignRequest describes an authority signing a CSR.
type SignRequest struct {
	CSRPath      string
	CACertPath   string
	CAKeyPath    string
	CAPassphrase string
	// SerialPath is the authority's serial counter; created when missing.
	SerialPath string
	Days       int
	OutPath    string
}

// RequestSigner creates signing requests and signs them with an authority.
type RequestSigner interface {
	CreateRequest(ctx context.Context, req CSRRequest) error
	SignRequest(ctx context.Context, req SignRequest) error
}

// KeyPairRequest describes a key pair generated inside a store.
type KeyPairRequest struct {
	StorePath string
	Alias     string
	Subject   pkix.Name
	Bits      int
	Days      int
	StorePass string
}

// EntryKind distinguishes store entries.
type EntryKind string

const (
	// PrivateKeyEntry holds a key and its certificate chain.
	PrivateKeyEntry EntryKind = "PrivateKeyEntry"
	// TrustedCertEntry holds a single trusted certificate.
	TrustedCertEntry EntryKind = "trustedCertEntry"
)

// Entry summarizes one alias in a store.
type Entry struct {
	Alias       string    `json:"alias" yaml:"alias" header:"ALIAS"`
	Kind        EntryKind `json:"kind" yaml:"kind" header:"KIND"`
	Subject     string    `json:"subject" yaml:"subject" header:"SUBJECT"`
	Issuer      string    `json:"issuer" yaml:"issuer" header:"ISSUER"`
	NotAfter    time.Time `json:"not_after" yaml:"not_after" header:"NOT AFTER"`
	ChainLength int       `json:"chain_length" yaml:"chain_length" header:"CHAIN"`
	Fingerprint string    `json:"sha256" yaml:"sha256"`
}

// KeyStore is a password-protected, alias-addressed certificate store.
// Aliases are case-insensitive.
type KeyStore interface {
	// GenerateKeyPair adds a key pair with a self-signed certificate under alias,
	// creating the store if needed. An existing alias is an error.
	GenerateKeyPair(ctx context.Context, req KeyPairRequest) error
	// CertificateRequest writes a CSR for the key held under alias.
	CertificateRequest(ctx context.Context, storePath, alias, storePass, csrPath string) error
	// ImportCertificate installs a certificate reply when alias holds a key,
	// or adds a trusted certificate entry when alias is absent. Importing onto
	// an existing trusted alias is an error. The store is created if needed.
	ImportCertificate(ctx context.Context, storePath, alias, certPath, storePass string) error
	// ExportCertificate writes the certificate under alias (the leaf for key
	// entries) as PEM.
	ExportCertificate(ctx context.Context, storePath, alias, storePass, outPath string) error
	// Contains reports whether alias is present. A missing store contains nothing.
	Contains(ctx context.Context, storePath, alias, storePass string) (bool, error)
	// Entries lists the store's aliases in order.
	Entries(ctx context.Context, storePath, storePass string) ([]Entry, error)
}

// Toolchain bundles all four capabilities.
type Toolchain interface {
	KeyGenerator
	CertificateCreator
	RequestSigner
	KeyStore
}
