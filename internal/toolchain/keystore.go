package toolchain

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pavlo-v-chernykh/keystore-go/v4"

	"github.com/coral-mesh/clustertls/internal/safe"
)

// ErrAliasExists is returned when an import or key generation would
// overwrite an existing alias.
var ErrAliasExists = errors.New("alias already exists")

// ErrAliasNotFound is returned when an alias is missing from a store.
var ErrAliasNotFound = errors.New("alias not found")

const certType = "X509"

// Stores grow with the cluster.
var storeReadOptions = &safe.ReadOptions{MaxSize: 8 << 20}

func loadStore(path, pass string) (keystore.KeyStore, error) {
	ks := keystore.New(keystore.WithOrderedAliases())
	data, err := safe.ReadFile(path, storeReadOptions)
	if err != nil {
		return ks, err
	}
	if err := ks.Load(bytes.NewReader(data), []byte(pass)); err != nil {
		return ks, fmt.Errorf("failed to load keystore %s: %w", path, err)
	}
	return ks, nil
}

// loadOrCreateStore returns an empty store when path does not exist.
func loadOrCreateStore(path, pass string) (keystore.KeyStore, error) {
	ks, err := loadStore(path, pass)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return keystore.New(keystore.WithOrderedAliases()), nil
	}
	return ks, err
}

func saveStore(ks keystore.KeyStore, path, pass string) error {
	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(pass)); err != nil {
		return fmt.Errorf("failed to encode keystore: %w", err)
	}
	if err := safe.WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	return nil
}

func hasAlias(ks keystore.KeyStore, alias string) bool {
	return ks.IsPrivateKeyEntry(alias) || ks.IsTrustedCertificateEntry(alias)
}

// GenerateKeyPair adds a key pair with a self-signed certificate under alias.
func (n *Native) GenerateKeyPair(ctx context.Context, req KeyPairRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ks, err := loadOrCreateStore(req.StorePath, req.StorePass)
	if err != nil {
		return err
	}
	if hasAlias(ks, req.Alias) {
		return fmt.Errorf("%w: %s", ErrAliasExists, req.Alias)
	}

	key, err := n.newKey(req.Bits)
	if err != nil {
		return err
	}
	serial, err := n.randomSerial()
	if err != nil {
		return err
	}
	notBefore, notAfter := n.validity(req.Days)
	template := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            req.Subject,
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		KeyUsage:           x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	certDER, err := x509.CreateCertificate(n.rand, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create self-signed certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	entry := keystore.PrivateKeyEntry{
		CreationTime: n.now(),
		PrivateKey:   keyDER,
		CertificateChain: []keystore.Certificate{
			{Type: certType, Content: certDER},
		},
	}
	if err := ks.SetPrivateKeyEntry(req.Alias, entry, []byte(req.StorePass)); err != nil {
		return fmt.Errorf("failed to store key pair: %w", err)
	}
	if err := saveStore(ks, req.StorePath, req.StorePass); err != nil {
		return err
	}

	n.logger.Debug().Str("store", req.StorePath).Str("alias", req.Alias).Msg("Generated key pair")
	return nil
}

func privateKeyOf(ks keystore.KeyStore, alias, pass string) (keystore.PrivateKeyEntry, *rsa.PrivateKey, error) {
	entry, err := ks.GetPrivateKeyEntry(alias, []byte(pass))
	if err != nil {
		return entry, nil, fmt.Errorf("failed to read key entry %s: %w", alias, err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
	if err != nil {
		return entry, nil, fmt.Errorf("failed to parse key entry %s: %w", alias, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return entry, nil, fmt.Errorf("key entry %s is %T, only RSA is supported", alias, parsed)
	}
	return entry, key, nil
}

// CertificateRequest writes a CSR for the key under alias, reusing the
// subject of the entry's current certificate.
func (n *Native) CertificateRequest(ctx context.Context, storePath, alias, storePass, csrPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ks, err := loadStore(storePath, storePass)
	if err != nil {
		return err
	}
	if !ks.IsPrivateKeyEntry(alias) {
		return fmt.Errorf("%w: no key entry %s", ErrAliasNotFound, alias)
	}
	entry, key, err := privateKeyOf(ks, alias, storePass)
	if err != nil {
		return err
	}
	if len(entry.CertificateChain) == 0 {
		return fmt.Errorf("key entry %s has no certificate", alias)
	}
	leaf, err := x509.ParseCertificate(entry.CertificateChain[0].Content)
	if err != nil {
		return fmt.Errorf("failed to parse certificate of %s: %w", alias, err)
	}
	return n.writeRequest(key, leaf.Subject, csrPath)
}

// ImportCertificate installs a certificate reply or adds a trusted entry.
func (n *Native) ImportCertificate(ctx context.Context, storePath, alias, certPath, storePass string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	certs, err := readCertificates(certPath)
	if err != nil {
		return err
	}
	ks, err := loadOrCreateStore(storePath, storePass)
	if err != nil {
		return err
	}

	switch {
	case ks.IsPrivateKeyEntry(alias):
		if err := installReply(ks, alias, storePass, certs, n); err != nil {
			return err
		}
	case ks.IsTrustedCertificateEntry(alias):
		return fmt.Errorf("%w: %s", ErrAliasExists, alias)
	default:
		err := ks.SetTrustedCertificateEntry(alias, keystore.TrustedCertificateEntry{
			CreationTime: n.now(),
			Certificate:  keystore.Certificate{Type: certType, Content: certs[0].Raw},
		})
		if err != nil {
			return fmt.Errorf("failed to add trusted certificate %s: %w", alias, err)
		}
	}

	if err := saveStore(ks, storePath, storePass); err != nil {
		return err
	}
	n.logger.Debug().Str("store", storePath).Str("alias", alias).Msg("Imported certificate")
	return nil
}

// installReply replaces the chain of a key entry with the signed leaf and
// its issuers, completed from the store's trusted entries.
func installReply(ks keystore.KeyStore, alias, pass string, reply []*x509.Certificate, n *Native) error {
	entry, key, err := privateKeyOf(ks, alias, pass)
	if err != nil {
		return err
	}
	leaf := reply[0]
	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return fmt.Errorf("certificate reply does not match the key of %s", alias)
	}

	chain, err := buildChain(ks, reply)
	if err != nil {
		return fmt.Errorf("failed to establish chain from reply for %s: %w", alias, err)
	}

	entry.CreationTime = n.now()
	entry.CertificateChain = make([]keystore.Certificate, 0, len(chain))
	for _, c := range chain {
		entry.CertificateChain = append(entry.CertificateChain, keystore.Certificate{Type: certType, Content: c.Raw})
	}
	if err := ks.SetPrivateKeyEntry(alias, entry, []byte(pass)); err != nil {
		return fmt.Errorf("failed to store certificate reply: %w", err)
	}
	return nil
}

func isSelfSigned(c *x509.Certificate) bool {
	return bytes.Equal(c.RawIssuer, c.RawSubject) && c.CheckSignatureFrom(c) == nil
}

// buildChain extends reply until it ends in a self-signed certificate,
// taking missing issuers from the store's trusted entries.
func buildChain(ks keystore.KeyStore, reply []*x509.Certificate) ([]*x509.Certificate, error) {
	chain := append([]*x509.Certificate(nil), reply...)
	for i := 1; i < len(chain); i++ {
		if err := chain[i-1].CheckSignatureFrom(chain[i]); err != nil {
			return nil, fmt.Errorf("reply certificate %d is not signed by certificate %d: %w", i-1, i, err)
		}
	}

	for len(chain) <= 10 {
		top := chain[len(chain)-1]
		if isSelfSigned(top) {
			return chain, nil
		}
		issuer, err := findIssuer(ks, top)
		if err != nil {
			return nil, err
		}
		chain = append(chain, issuer)
	}
	return nil, fmt.Errorf("chain too long")
}

func findIssuer(ks keystore.KeyStore, child *x509.Certificate) (*x509.Certificate, error) {
	for _, alias := range ks.Aliases() {
		if !ks.IsTrustedCertificateEntry(alias) {
			continue
		}
		entry, err := ks.GetTrustedCertificateEntry(alias)
		if err != nil {
			continue
		}
		candidate, err := x509.ParseCertificate(entry.Certificate.Content)
		if err != nil {
			continue
		}
		if bytes.Equal(candidate.RawSubject, child.RawIssuer) && child.CheckSignatureFrom(candidate) == nil {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("issuer %q is not trusted by the store", child.Issuer.String())
}

// leafOf returns the certificate stored under alias.
func leafOf(ks keystore.KeyStore, alias string) (*x509.Certificate, int, error) {
	switch {
	case ks.IsPrivateKeyEntry(alias):
		chain, err := ks.GetPrivateKeyEntryCertificateChain(alias)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read chain of %s: %w", alias, err)
		}
		if len(chain) == 0 {
			return nil, 0, fmt.Errorf("key entry %s has no certificate", alias)
		}
		cert, err := x509.ParseCertificate(chain[0].Content)
		return cert, len(chain), err
	case ks.IsTrustedCertificateEntry(alias):
		entry, err := ks.GetTrustedCertificateEntry(alias)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read trusted entry %s: %w", alias, err)
		}
		cert, err := x509.ParseCertificate(entry.Certificate.Content)
		return cert, 1, err
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrAliasNotFound, alias)
	}
}

// ExportCertificate writes the certificate under alias as PEM.
func (n *Native) ExportCertificate(ctx context.Context, storePath, alias, storePass, outPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ks, err := loadStore(storePath, storePass)
	if err != nil {
		return err
	}
	cert, _, err := leafOf(ks, alias)
	if err != nil {
		return err
	}
	// #nosec G306: certificates are public.
	if err := safe.WriteFileAtomic(outPath, EncodeCertificate(cert.Raw), 0o644); err != nil {
		return fmt.Errorf("failed to write exported certificate: %w", err)
	}
	n.logger.Debug().Str("store", storePath).Str("alias", alias).Str("out", outPath).Msg("Exported certificate")
	return nil
}

// Contains reports whether alias is present in the store.
func (n *Native) Contains(ctx context.Context, storePath, alias, storePass string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ks, err := loadStore(storePath, storePass)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return hasAlias(ks, alias), nil
}

// Entries lists the aliases of a store.
func (n *Native) Entries(ctx context.Context, storePath, storePass string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ks, err := loadStore(storePath, storePass)
	if err != nil {
		return nil, err
	}

	aliases := ks.Aliases()
	entries := make([]Entry, 0, len(aliases))
	for _, alias := range aliases {
		cert, chainLen, err := leafOf(ks, alias)
		if err != nil {
			return nil, err
		}
		kind := TrustedCertEntry
		if ks.IsPrivateKeyEntry(alias) {
			kind = PrivateKeyEntry
		}
		sum := sha256.Sum256(cert.Raw)
		entries = append(entries, Entry{
			Alias:       alias,
			Kind:        kind,
			Subject:     cert.Subject.String(),
			Issuer:      cert.Issuer.String(),
			NotAfter:    cert.NotAfter,
			ChainLength: chainLen,
			Fingerprint: strings.ToUpper(hex.EncodeToString(sum[:])),
		})
	}
	return entries, nil
}
