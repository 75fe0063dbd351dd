// Package toolchaintest provides a file-backed, recording toolchain for tests.
//
// The fake writes real files in the same places the native toolchain would,
// with PEM block types the layout predicates recognise, but the payloads are
// small JSON documents instead of real key material. That keeps unit tests
// fast while still letting them assert on what hit the disk.
package toolchaintest

import (
	"context"
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/coral-mesh/clustertls/internal/safe"
	"github.com/coral-mesh/clustertls/internal/toolchain"
)

// Operation names recorded by Fake.
const (
	OpGenerateKey        = "GenerateKey"
	OpCreateSelfSigned   = "CreateSelfSigned"
	OpCreateRequest      = "CreateRequest"
	OpSignRequest        = "SignRequest"
	OpGenerateKeyPair    = "GenerateKeyPair"
	OpCertificateRequest = "CertificateRequest"
	OpImportCertificate  = "ImportCertificate"
	OpExportCertificate  = "ExportCertificate"
	OpContains           = "Contains"
	OpEntries            = "Entries"
)

var readOnly = map[string]bool{OpContains: true, OpEntries: true}

// Call is one recorded toolchain invocation.
type Call struct {
	Op     string
	Target string
	Alias  string
}

// Fake implements toolchain.Toolchain.
type Fake struct {
	mu       sync.Mutex
	calls    []Call
	failures map[string]error
	keySeq   int
}

var _ toolchain.Toolchain = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{failures: make(map[string]error)}
}

// FailOn makes every later call of op return err.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many times op was invoked.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Mutations returns how many calls could have changed the filesystem.
func (f *Fake) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if !readOnly[c.Op] {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) record(ctx context.Context, op, target, alias string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, Target: target, Alias: alias})
	return f.failures[op]
}

func (f *Fake) nextKeyID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keySeq++
	return fmt.Sprintf("key-%d", f.keySeq)
}

// fakeKey is the payload of a fake key file.
type fakeKey struct {
	ID string `json:"id"`
	// Lock is a digest of the passphrase for encrypted keys.
	Lock string `json:"lock,omitempty"`
}

// Cert is the payload of a fake certificate.
type Cert struct {
	Subject string `json:"subject"`
	Issuer  string `json:"issuer"`
	Serial  string `json:"serial"`
	KeyID   string `json:"key_id"`
	IsCA    bool   `json:"is_ca"`
}

type fakeRequest struct {
	Subject string `json:"subject"`
	KeyID   string `json:"key_id"`
}

type storeEntry struct {
	Alias string `json:"alias"`
	Kind  string `json:"kind"`
	KeyID string `json:"key_id,omitempty"`
	Chain []Cert `json:"chain"`
}

type fakeStore struct {
	Lock    string       `json:"lock"`
	Entries []storeEntry `json:"entries"`
}

func digest(pass string) string {
	sum := sha256.Sum256([]byte(pass))
	return hex.EncodeToString(sum[:8])
}

func writePEM(path, blockType string, v any, perm os.FileMode) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return safe.WriteFileAtomic(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: body}), perm)
}

func readPEM(path, blockType string, v any) error {
	data, err := safe.ReadFile(path, nil)
	if err != nil {
		return err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return fmt.Errorf("%s: expected PEM block %q", path, blockType)
	}
	return json.Unmarshal(block.Bytes, v)
}

func readKey(path, pass string) (fakeKey, error) {
	var key fakeKey
	data, err := safe.ReadFile(path, nil)
	if err != nil {
		return key, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return key, fmt.Errorf("%s: not a PEM key", path)
	}
	if err := json.Unmarshal(block.Bytes, &key); err != nil {
		return key, err
	}
	if key.Lock != "" && key.Lock != digest(pass) {
		return key, toolchain.ErrBadPassphrase
	}
	return key, nil
}

// ReadCert decodes a certificate written by the fake.
func ReadCert(path string) (Cert, error) {
	var cert Cert
	err := readPEM(path, toolchain.BlockCertificate, &cert)
	return cert, err
}

func loadStore(path, pass string) (*fakeStore, error) {
	data, err := safe.ReadFile(path, nil)
	if err != nil {
		return nil, err
	}
	var st fakeStore
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("malformed store %s: %w", path, err)
	}
	if st.Lock != digest(pass) {
		return nil, fmt.Errorf("store %s: %w", path, toolchain.ErrBadPassphrase)
	}
	return &st, nil
}

func loadOrCreateStore(path, pass string) (*fakeStore, error) {
	st, err := loadStore(path, pass)
	if errors.Is(err, fs.ErrNotExist) {
		return &fakeStore{Lock: digest(pass)}, nil
	}
	return st, err
}

func saveStore(st *fakeStore, path string) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return safe.WriteFileAtomic(path, data, 0o600)
}

func (st *fakeStore) find(alias string) *storeEntry {
	for i := range st.Entries {
		if strings.EqualFold(st.Entries[i].Alias, alias) {
			return &st.Entries[i]
		}
	}
	return nil
}

// GenerateKey implements toolchain.KeyGenerator.
func (f *Fake) GenerateKey(ctx context.Context, req toolchain.KeyRequest) error {
	if err := f.record(ctx, OpGenerateKey, req.KeyPath, ""); err != nil {
		return err
	}
	return f.writeKey(req.KeyPath, req.Passphrase)
}

func (f *Fake) writeKey(path, pass string) error {
	key := fakeKey{ID: f.nextKeyID()}
	blockType := toolchain.BlockPrivateKey
	if pass != "" {
		key.Lock = digest(pass)
		blockType = toolchain.BlockEncryptedPrivateKey
	}
	return writePEM(path, blockType, key, 0o600)
}

// CreateSelfSigned implements toolchain.CertificateCreator.
func (f *Fake) CreateSelfSigned(ctx context.Context, req toolchain.SelfSignedRequest) error {
	if err := f.record(ctx, OpCreateSelfSigned, req.CertPath, ""); err != nil {
		return err
	}
	if !req.ReuseKey {
		if err := f.writeKey(req.KeyPath, req.Passphrase); err != nil {
			return err
		}
	}
	key, err := readKey(req.KeyPath, req.Passphrase)
	if err != nil {
		return err
	}
	subject := req.Subject.String()
	return writePEM(req.CertPath, toolchain.BlockCertificate, Cert{
		Subject: subject,
		Issuer:  subject,
		Serial:  "01",
		KeyID:   key.ID,
		IsCA:    true,
	}, 0o644)
}

// CreateRequest implements toolchain.RequestSigner.
func (f *Fake) CreateRequest(ctx context.Context, req toolchain.CSRRequest) error {
	if err := f.record(ctx, OpCreateRequest, req.CSRPath, ""); err != nil {
		return err
	}
	key, err := readKey(req.KeyPath, req.Passphrase)
	if err != nil {
		return err
	}
	return writePEM(req.CSRPath, toolchain.BlockCertificateRequest, fakeRequest{
		Subject: req.Subject.String(),
		KeyID:   key.ID,
	}, 0o600)
}

// SignRequest implements toolchain.RequestSigner.
func (f *Fake) SignRequest(ctx context.Context, req toolchain.SignRequest) error {
	if err := f.record(ctx, OpSignRequest, req.OutPath, ""); err != nil {
		return err
	}
	var csr fakeRequest
	if err := readPEM(req.CSRPath, toolchain.BlockCertificateRequest, &csr); err != nil {
		return err
	}
	ca, err := ReadCert(req.CACertPath)
	if err != nil {
		return err
	}
	if _, err := readKey(req.CAKeyPath, req.CAPassphrase); err != nil {
		return err
	}
	serial, err := toolchain.NextSerial(req.SerialPath, nil)
	if err != nil {
		return err
	}
	return writePEM(req.OutPath, toolchain.BlockCertificate, Cert{
		Subject: csr.Subject,
		Issuer:  ca.Subject,
		Serial:  toolchain.FormatSerial(serial),
		KeyID:   csr.KeyID,
	}, 0o644)
}

// GenerateKeyPair implements toolchain.KeyStore.
func (f *Fake) GenerateKeyPair(ctx context.Context, req toolchain.KeyPairRequest) error {
	if err := f.record(ctx, OpGenerateKeyPair, req.StorePath, req.Alias); err != nil {
		return err
	}
	st, err := loadOrCreateStore(req.StorePath, req.StorePass)
	if err != nil {
		return err
	}
	if st.find(req.Alias) != nil {
		return fmt.Errorf("%w: %s", toolchain.ErrAliasExists, req.Alias)
	}
	id := f.nextKeyID()
	subject := req.Subject.String()
	st.Entries = append(st.Entries, storeEntry{
		Alias: strings.ToLower(req.Alias),
		Kind:  string(toolchain.PrivateKeyEntry),
		KeyID: id,
		Chain: []Cert{{Subject: subject, Issuer: subject, Serial: "00", KeyID: id}},
	})
	return saveStore(st, req.StorePath)
}

// CertificateRequest implements toolchain.KeyStore.
func (f *Fake) CertificateRequest(ctx context.Context, storePath, alias, storePass, csrPath string) error {
	if err := f.record(ctx, OpCertificateRequest, storePath, alias); err != nil {
		return err
	}
	st, err := loadStore(storePath, storePass)
	if err != nil {
		return err
	}
	entry := st.find(alias)
	if entry == nil || entry.Kind != string(toolchain.PrivateKeyEntry) {
		return fmt.Errorf("%w: %s", toolchain.ErrAliasNotFound, alias)
	}
	return writePEM(csrPath, toolchain.BlockCertificateRequest, fakeRequest{
		Subject: entry.Chain[0].Subject,
		KeyID:   entry.KeyID,
	}, 0o600)
}

// ImportCertificate implements toolchain.KeyStore.
func (f *Fake) ImportCertificate(ctx context.Context, storePath, alias, certPath, storePass string) error {
	if err := f.record(ctx, OpImportCertificate, storePath, alias); err != nil {
		return err
	}
	cert, err := ReadCert(certPath)
	if err != nil {
		return err
	}
	st, err := loadOrCreateStore(storePath, storePass)
	if err != nil {
		return err
	}

	entry := st.find(alias)
	switch {
	case entry == nil:
		st.Entries = append(st.Entries, storeEntry{
			Alias: strings.ToLower(alias),
			Kind:  string(toolchain.TrustedCertEntry),
			Chain: []Cert{cert},
		})
	case entry.Kind == string(toolchain.PrivateKeyEntry):
		if cert.KeyID != entry.KeyID {
			return fmt.Errorf("certificate reply does not match the key of %s", alias)
		}
		chain := []Cert{cert}
		for _, other := range st.Entries {
			if other.Kind == string(toolchain.TrustedCertEntry) && other.Chain[0].Subject == cert.Issuer {
				chain = append(chain, other.Chain[0])
				break
			}
		}
		if len(chain) == 1 && cert.Issuer != cert.Subject {
			return fmt.Errorf("failed to establish chain from reply for %s", alias)
		}
		entry.Chain = chain
	default:
		return fmt.Errorf("%w: %s", toolchain.ErrAliasExists, alias)
	}
	return saveStore(st, storePath)
}

// ExportCertificate implements toolchain.KeyStore.
func (f *Fake) ExportCertificate(ctx context.Context, storePath, alias, storePass, outPath string) error {
	if err := f.record(ctx, OpExportCertificate, storePath, alias); err != nil {
		return err
	}
	st, err := loadStore(storePath, storePass)
	if err != nil {
		return err
	}
	entry := st.find(alias)
	if entry == nil {
		return fmt.Errorf("%w: %s", toolchain.ErrAliasNotFound, alias)
	}
	return writePEM(outPath, toolchain.BlockCertificate, entry.Chain[0], 0o644)
}

// Contains implements toolchain.KeyStore.
func (f *Fake) Contains(ctx context.Context, storePath, alias, storePass string) (bool, error) {
	if err := f.record(ctx, OpContains, storePath, alias); err != nil {
		return false, err
	}
	st, err := loadStore(storePath, storePass)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.find(alias) != nil, nil
}

// Entries implements toolchain.KeyStore.
func (f *Fake) Entries(ctx context.Context, storePath, storePass string) ([]toolchain.Entry, error) {
	if err := f.record(ctx, OpEntries, storePath, ""); err != nil {
		return nil, err
	}
	st, err := loadStore(storePath, storePass)
	if err != nil {
		return nil, err
	}
	entries := make([]toolchain.Entry, 0, len(st.Entries))
	for _, e := range st.Entries {
		entries = append(entries, toolchain.Entry{
			Alias:       e.Alias,
			Kind:        toolchain.EntryKind(e.Kind),
			Subject:     e.Chain[0].Subject,
			Issuer:      e.Chain[0].Issuer,
			ChainLength: len(e.Chain),
			Fingerprint: e.Chain[0].Serial,
		})
	}
	return entries, nil
}

// Subject is a convenience for building test subjects.
func Subject(cn string) pkix.Name {
	return pkix.Name{CommonName: cn}
}
