package provision

import (
	"context"

	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/layout"
	"github.com/coral-mesh/clustertls/internal/toolchain"
)

// Status derives the state of every target in opts from disk. Problems with
// individual artifacts are reported in Detail rather than as an error.
func (o *Orchestrator) Status(ctx context.Context, opts Options) ([]TargetStatus, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, errors.Usagef("%v", err)
	}
	if err := o.layout.ValidateNodes(opts.Nodes); err != nil {
		return nil, errors.Usagef("%v", err)
	}

	statuses := make([]TargetStatus, 0, len(opts.Nodes)+1)
	for _, node := range opts.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		statuses = append(statuses, o.nodeStatus(ctx, mode, node, opts.Passphrases.Store))
	}
	if opts.Client {
		statuses = append(statuses, o.clientStatus(ctx, mode, opts.Passphrases.Store))
	}
	return statuses, nil
}

func authorityName(mode Mode, name string) string {
	if mode == Shared {
		return ""
	}
	return name
}

// authorityReady reports whether the target's authority is usable.
func (o *Orchestrator) authorityReady(st *TargetStatus, name string) bool {
	state, err := o.cas.State(name)
	if err != nil {
		st.Detail = err.Error()
		return false
	}
	if state != layout.Present {
		return false
	}
	st.State = AuthorityReady
	return true
}

// trusted reports whether alias is in the truststore.
func (o *Orchestrator) trusted(ctx context.Context, st *TargetStatus, alias, storePass string) bool {
	found, err := o.stores.Contains(ctx, o.layout.Truststore, alias, storePass)
	if err != nil {
		st.Detail = err.Error()
		return false
	}
	if !found {
		st.Detail = "truststore lacks " + alias
	}
	return found
}

func (o *Orchestrator) nodeStatus(ctx context.Context, mode Mode, node, storePass string) TargetStatus {
	st := TargetStatus{Target: node, Kind: KindNode, State: NotStarted}
	caName := authorityName(mode, node)
	if !o.authorityReady(&st, caName) {
		return st
	}

	files := o.layout.Node(node)
	if layout.CheckPEM(files.Signed, toolchain.BlockCertificate) == layout.Present {
		st.State = IdentityIssued
	}
	ks, err := o.assembler.KeystoreState(ctx, node, o.cas.Handle(caName).Alias, storePass)
	if err != nil {
		st.Detail = err.Error()
		return st
	}
	if ks != layout.Present {
		return st
	}
	st.State = KeystoreBuilt

	if !o.trusted(ctx, &st, o.cas.Handle(caName).Alias, storePass) {
		return st
	}
	st.State = TrustAnchored

	if mode == Shared && !o.trusted(ctx, &st, node, storePass) {
		return st
	}
	st.State = Done
	return st
}

func (o *Orchestrator) clientStatus(ctx context.Context, mode Mode, storePass string) TargetStatus {
	st := TargetStatus{Target: constants.ClientName, Kind: KindClient, State: NotStarted}
	caName := authorityName(mode, constants.ClientName)
	if !o.authorityReady(&st, caName) {
		return st
	}

	files := o.layout.Client()
	key := layout.CheckPEM(files.Key, toolchain.BlockPrivateKey, toolchain.BlockRSAPrivateKey, toolchain.BlockEncryptedPrivateKey)
	cert := layout.CheckPEM(files.Cert, toolchain.BlockCertificate)
	if key != layout.Present || cert != layout.Present {
		return st
	}
	st.State = IdentityIssued

	// The client has no keystore; trust anchoring follows issuance directly.
	if !o.trusted(ctx, &st, o.cas.Handle(caName).Alias, storePass) {
		return st
	}
	st.State = TrustAnchored

	if !o.trusted(ctx, &st, constants.ClientName, storePass) {
		return st
	}
	st.State = Done
	return st
}
