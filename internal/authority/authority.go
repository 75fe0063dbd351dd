// Package authority creates and loads root certificate authorities and hands
// out lock-scoped handles to them.
package authority

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/fslock"
	"github.com/coral-mesh/clustertls/internal/layout"
	"github.com/coral-mesh/clustertls/internal/subject"
	"github.com/coral-mesh/clustertls/internal/toolchain"
)

// Authority is a handle to one root CA on disk. Writers of the key or serial
// file must hold the handle's lock.
type Authority struct {
	// Name is the node address, "client", or "" for the shared authority.
	Name       string
	Alias      string
	KeyPath    string
	CertPath   string
	SerialPath string

	lock *fslock.Lock
}

// WithLock runs fn while holding the authority's lock.
func (a *Authority) WithLock(ctx context.Context, fn func() error) error {
	return a.lock.With(ctx, fn)
}

// Manager creates authorities on demand. Handles are cached per name so all
// targets signing with one authority share a single lock.
type Manager struct {
	layout   layout.Layout
	creator  toolchain.CertificateCreator
	subjects subject.Template
	logger   zerolog.Logger

	mu      sync.Mutex
	handles map[string]*Authority
}

// NewManager creates an authority manager.
func NewManager(l layout.Layout, creator toolchain.CertificateCreator, subjects subject.Template, logger zerolog.Logger) *Manager {
	return &Manager{
		layout:   l,
		creator:  creator,
		subjects: subjects,
		logger:   logger,
		handles:  make(map[string]*Authority),
	}
}

// Handle returns the handle for name without touching the filesystem.
func (m *Manager) Handle(name string) *Authority {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.handles[name]; ok {
		return a
	}
	files := m.layout.Authority(name)
	a := &Authority{
		Name:       name,
		Alias:      files.Alias,
		KeyPath:    files.Key,
		CertPath:   files.Cert,
		SerialPath: files.Serial,
		lock:       fslock.New(files.Lock),
	}
	m.handles[name] = a
	return a
}

// State classifies the authority's key and certificate on disk. An error
// means the pair is incomplete or malformed.
func (m *Manager) State(name string) (layout.Presence, error) {
	return state(m.Handle(name))
}

func state(a *Authority) (layout.Presence, error) {
	return layout.PairState(presence(a))
}

func presence(a *Authority) (key, cert layout.Presence) {
	key = layout.CheckPEM(a.KeyPath, toolchain.BlockEncryptedPrivateKey, toolchain.BlockPrivateKey, toolchain.BlockRSAPrivateKey)
	cert = layout.CheckPEM(a.CertPath, toolchain.BlockCertificate)
	return key, cert
}

// EnsureAuthority returns the authority for name, creating its key and
// self-signed certificate if neither exists. A key whose certificate is
// missing, as left by an interrupted creation, gets its certificate
// recreated provided it decrypts with passphrase. Any other incomplete or
// malformed pair is an error; existing material is never overwritten.
func (m *Manager) EnsureAuthority(ctx context.Context, name, passphrase string) (*Authority, error) {
	a := m.Handle(name)
	logger := m.logger.With().Str("authority", a.Alias).Logger()

	if err := os.MkdirAll(filepath.Dir(a.CertPath), 0o755); err != nil { // #nosec G301 - holds public certificates.
		return nil, fmt.Errorf("failed to create authority directory: %w", err)
	}

	err := a.WithLock(ctx, func() error {
		key, cert := presence(a)
		reuse := key == layout.Present && cert == layout.Missing
		if !reuse {
			current, err := layout.PairState(key, cert)
			if err != nil {
				return fmt.Errorf("authority %s is unusable, refusing to overwrite: %w", a.Alias, err)
			}
			if current == layout.Present {
				logger.Info().Str("cert", a.CertPath).Msg("Root CA already exists, skipping generation")
				return nil
			}
			logger.Info().Msg("Creating root CA")
		} else {
			logger.Warn().Str("key", a.KeyPath).Msg("Root CA key has no certificate, recreating certificate")
		}

		err := m.creator.CreateSelfSigned(ctx, toolchain.SelfSignedRequest{
			KeyPath:    a.KeyPath,
			CertPath:   a.CertPath,
			Subject:    m.subjects.Authority(name),
			Bits:       constants.RSAKeyBits,
			Days:       constants.ValidityDays,
			Passphrase: passphrase,
			ReuseKey:   reuse,
		})
		return errors.Tool("req -x509", a.CertPath, err)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
