// Package provision drives authorities, identities, keystores and the
// truststore to their final state for a set of targets. The filesystem is the
// only record of progress: every run re-derives each target's state and does
// only the work that is missing.
package provision

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/clustertls/internal/assembler"
	"github.com/coral-mesh/clustertls/internal/authority"
	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/issuer"
	"github.com/coral-mesh/clustertls/internal/layout"
	"github.com/coral-mesh/clustertls/internal/logging"
	"github.com/coral-mesh/clustertls/internal/subject"
	"github.com/coral-mesh/clustertls/internal/toolchain"
)

// Options select what a run provisions.
type Options struct {
	Mode        Mode
	Nodes       []string
	Client      bool
	Passphrases assembler.Passphrases
	// Parallelism bounds how many targets are processed at once.
	Parallelism int
}

func (o Options) validate(l layout.Layout) error {
	if len(o.Nodes) == 0 && !o.Client {
		return errors.Usagef("at least one node address is required unless --client is set")
	}
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return errors.Usagef("%v", err)
	}
	if err := l.ValidateNodes(o.Nodes); err != nil {
		return errors.Usagef("%v", err)
	}
	return nil
}

func (o Options) parallelism() int {
	if o.Parallelism < 1 {
		return constants.DefaultParallelism
	}
	return o.Parallelism
}

// Orchestrator provisions targets.
type Orchestrator struct {
	layout    layout.Layout
	stores    toolchain.KeyStore
	cas       *authority.Manager
	issuer    *issuer.Issuer
	assembler *assembler.Assembler
	subjects  subject.Template
	logger    zerolog.Logger
}

// New wires the provisioning components around one toolchain.
func New(l layout.Layout, tools toolchain.Toolchain, subjects subject.Template, logger zerolog.Logger) *Orchestrator {
	iss := issuer.New(tools, logging.Component(logger, "issuer"))
	return &Orchestrator{
		layout:    l,
		stores:    tools,
		cas:       authority.NewManager(l, tools, subjects, logging.Component(logger, "authority")),
		issuer:    iss,
		assembler: assembler.New(l, tools, iss, subjects, logging.Component(logger, "assembler")),
		subjects:  subjects,
		logger:    logging.Component(logger, "provision"),
	}
}

// Layout returns the artifact layout.
func (o *Orchestrator) Layout() layout.Layout {
	return o.layout
}

// run carries per-run state.
type run struct {
	*Orchestrator
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	anchored []string
}

func (r *run) anchor(ctx context.Context, alias, certPath string) error {
	added, err := r.assembler.EnsureTrustEntry(ctx, r.layout.Truststore, alias, certPath, r.opts.Passphrases.Store)
	if err != nil {
		return err
	}
	if added {
		r.mu.Lock()
		r.anchored = append(r.anchored, alias)
		r.mu.Unlock()
	}
	return nil
}

// Run provisions every target in opts. The first failure cancels the
// remaining targets and is returned.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.validate(o.layout); err != nil {
		return nil, err
	}
	opts.Mode, _ = ParseMode(string(opts.Mode))

	runID := uuid.NewString()
	r := &run{
		Orchestrator: o,
		opts:         opts,
		logger:       o.logger.With().Str("run_id", runID).Str("mode", string(opts.Mode)).Logger(),
	}

	before, err := o.Status(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(o.layout.Root, 0o755); err != nil { // #nosec G301 - working root.
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	r.logger.Info().
		Strs("nodes", opts.Nodes).
		Bool("client", opts.Client).
		Int("parallelism", opts.parallelism()).
		Msg("Starting provisioning run")

	switch opts.Mode {
	case Shared:
		err = r.shared(ctx)
	default:
		err = r.perEntity(ctx)
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("Provisioning failed")
		return nil, err
	}

	summary := &Summary{RunID: runID, Mode: opts.Mode, Anchored: r.anchored}
	for _, st := range before {
		if st.State == Done {
			summary.Skipped = append(summary.Skipped, st.Target)
		} else {
			summary.Provisioned = append(summary.Provisioned, st.Target)
		}
	}
	r.logger.Info().
		Strs("provisioned", summary.Provisioned).
		Strs("skipped", summary.Skipped).
		Int("anchored", len(summary.Anchored)).
		Msg("Provisioning complete")
	return summary, nil
}

// group runs fn for every node plus, if set, the client.
func (r *run) group(ctx context.Context, node func(context.Context, string) error, client func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.parallelism())
	for _, n := range r.opts.Nodes {
		g.Go(func() error {
			return node(gctx, n)
		})
	}
	if client != nil && r.opts.Client {
		g.Go(func() error {
			return client(gctx)
		})
	}
	return g.Wait()
}

func (r *run) perEntity(ctx context.Context) error {
	return r.group(ctx, r.perEntityNode, r.perEntityClient)
}

// perEntityNode: node authority, keystore, anchor rootCa-<node>.
func (r *run) perEntityNode(ctx context.Context, node string) error {
	logger := r.logger.With().Str("node", node).Logger()
	if err := os.MkdirAll(r.layout.NodeDir(node), 0o755); err != nil { // #nosec G301 - holds public certificates.
		return fmt.Errorf("failed to create node directory: %w", err)
	}

	ca, err := r.nodeAuthority(ctx, node)
	if err != nil {
		return fmt.Errorf("node %s: %w", node, err)
	}
	if _, err := r.assembler.BuildNodeKeystore(ctx, node, ca, r.opts.Passphrases); err != nil {
		return fmt.Errorf("node %s: %w", node, err)
	}
	if err := r.anchor(ctx, ca.Alias, ca.CertPath); err != nil {
		return fmt.Errorf("node %s: %w", node, err)
	}
	logger.Info().Msg("Server certificate complete")
	return nil
}

// nodeAuthority creates the node's authority unless the node keystore is
// already complete, in which case the authority must already exist: a fresh
// authority could never match the keystore's chain.
func (r *run) nodeAuthority(ctx context.Context, node string) (*authority.Authority, error) {
	ca := r.cas.Handle(node)
	state, err := r.assembler.KeystoreState(ctx, node, ca.Alias, r.opts.Passphrases.Store)
	if err != nil {
		return nil, fmt.Errorf("refusing to continue: %w", err)
	}
	if state != layout.Present {
		return r.cas.EnsureAuthority(ctx, node, r.opts.Passphrases.Root)
	}
	caState, err := r.cas.State(node)
	if err != nil {
		return nil, err
	}
	if caState != layout.Present {
		return nil, fmt.Errorf("keystore exists but authority %s is missing", ca.Alias)
	}
	return ca, nil
}

// perEntityClient: client authority, identity, anchor rootCa-client and client.
func (r *run) perEntityClient(ctx context.Context) error {
	ca, err := r.cas.EnsureAuthority(ctx, constants.ClientName, r.opts.Passphrases.Root)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return r.client(ctx, ca, true)
}

func (r *run) client(ctx context.Context, ca *authority.Authority, anchorAuthority bool) error {
	files := r.layout.Client()
	certPath, err := r.issuer.IssueIdentity(ctx, issuer.Identity{
		Name:    constants.ClientName,
		Dir:     files.Dir,
		Subject: r.subjects.Client(),
	}, ca, r.opts.Passphrases.Root)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if anchorAuthority {
		if err := r.anchor(ctx, ca.Alias, ca.CertPath); err != nil {
			return fmt.Errorf("client: %w", err)
		}
	}
	if err := r.anchor(ctx, constants.ClientName, certPath); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	r.logger.Info().Msg("Client certificate complete")
	return nil
}

// shared: one authority anchored up front, then keystores and the client
// identity, then each node's leaf exported and anchored once every keystore
// exists.
func (r *run) shared(ctx context.Context) error {
	ca, err := r.cas.EnsureAuthority(ctx, "", r.opts.Passphrases.Root)
	if err != nil {
		return err
	}
	if err := r.anchor(ctx, ca.Alias, ca.CertPath); err != nil {
		return err
	}

	err = r.group(ctx, func(ctx context.Context, node string) error {
		if _, err := r.assembler.BuildNodeKeystore(ctx, node, ca, r.opts.Passphrases); err != nil {
			return fmt.Errorf("node %s: %w", node, err)
		}
		return nil
	}, func(ctx context.Context) error {
		return r.client(ctx, ca, false)
	})
	if err != nil {
		return err
	}

	return r.group(ctx, func(ctx context.Context, node string) error {
		files := r.layout.Node(node)
		if err := r.assembler.ExportCertificate(ctx, files.Keystore, node, r.opts.Passphrases.Store, files.Exported); err != nil {
			return fmt.Errorf("node %s: %w", node, err)
		}
		if err := r.anchor(ctx, node, files.Exported); err != nil {
			return fmt.Errorf("node %s: %w", node, err)
		}
		return nil
	}, nil)
}
