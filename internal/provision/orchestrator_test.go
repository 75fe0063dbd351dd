package provision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/clustertls/internal/assembler"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/layout"
	"github.com/coral-mesh/clustertls/internal/subject"
	"github.com/coral-mesh/clustertls/internal/testutil"
	"github.com/coral-mesh/clustertls/internal/toolchain"
	"github.com/coral-mesh/clustertls/internal/toolchain/toolchaintest"
)

var testPass = assembler.Passphrases{Root: "myRootPass", Store: "myKeyPass"}

func newFakeOrchestrator(t *testing.T) (*Orchestrator, *toolchaintest.Fake, string) {
	dir := t.TempDir()
	fake := toolchaintest.New()
	o := New(layout.New(dir, ""), fake, subject.Default(), testutil.NewTestLogger(t))
	return o, fake, dir
}

func truststoreAliases(t *testing.T, tools toolchain.KeyStore, path string) []string {
	t.Helper()
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	entries, err := tools.Entries(ctx, path, testPass.Store)
	require.NoError(t, err)
	aliases := make([]string, 0, len(entries))
	for _, e := range entries {
		assert.Equal(t, toolchain.TrustedCertEntry, e.Kind, "truststore holds trusted entries only")
		aliases = append(aliases, e.Alias)
	}
	return aliases
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, PerEntity, m)

	m, err = ParseMode("Shared")
	require.NoError(t, err)
	assert.Equal(t, Shared, m)

	_, err = ParseMode("global")
	assert.Error(t, err)
}

func TestRunRejectsBadInvocation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no targets", Options{Mode: PerEntity, Passphrases: testPass}},
		{"unknown mode", Options{Mode: "global", Nodes: []string{"n1"}, Passphrases: testPass}},
		{"reserved node name", Options{Nodes: []string{"client"}, Passphrases: testPass}},
		{"path node name", Options{Nodes: []string{"../etc"}, Passphrases: testPass}},
		{"truststore node name", Options{Nodes: []string{"generic-server-truststore.jks"}, Passphrases: testPass}},
		{"config file node name", Options{Nodes: []string{"clustertls.yaml"}, Passphrases: testPass}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := testutil.NewTestContext()
			defer cancel()
			o, fake, dir := newFakeOrchestrator(t)

			_, err := o.Run(ctx, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.IsUsage(err))
			assert.Empty(t, fake.Calls())
			assert.Empty(t, testutil.Snapshot(t, dir))
		})
	}
}

func TestRunRejectsNodeShadowingConfiguredTruststore(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	dir := t.TempDir()
	fake := toolchaintest.New()
	o := New(layout.New(dir, "cluster-trust.jks"), fake, subject.Default(), testutil.NewTestLogger(t))

	_, err := o.Run(ctx, Options{Nodes: []string{"cluster-trust.jks"}, Passphrases: testPass})
	require.Error(t, err)
	assert.True(t, errors.IsUsage(err))
	assert.Empty(t, fake.Calls())
	assert.Empty(t, testutil.Snapshot(t, dir))
}

func TestRunPerEntity(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	o, fake, dir := newFakeOrchestrator(t)

	summary, err := o.Run(ctx, Options{
		Mode:        PerEntity,
		Nodes:       []string{"10.0.0.1", "10.0.0.2"},
		Client:      true,
		Passphrases: testPass,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2", "client"}, summary.Provisioned)
	assert.Empty(t, summary.Skipped)
	assert.ElementsMatch(t, []string{"rootCa-10.0.0.1", "rootCa-10.0.0.2", "rootCa-client", "client"}, summary.Anchored)

	assert.Equal(t, 3, fake.Count(toolchaintest.OpCreateSelfSigned))
	for _, node := range []string{"10.0.0.1", "10.0.0.2"} {
		assert.FileExists(t, filepath.Join(dir, node, "rootCa-"+node+".key"))
		assert.FileExists(t, filepath.Join(dir, node, node+".jks"))
		assert.FileExists(t, filepath.Join(dir, node, node+".crt_signed"))
		assert.NoFileExists(t, filepath.Join(dir, node, node+".crt"))
	}
	assert.FileExists(t, filepath.Join(dir, "client", "rootCa-client.crt"))
	assert.FileExists(t, filepath.Join(dir, "client", "client.crt"))
	assert.NoFileExists(t, filepath.Join(dir, "rootCa.key"))
	assert.NoFileExists(t, filepath.Join(dir, "rootCa.crt"))

	assert.ElementsMatch(t,
		[]string{"rootca-10.0.0.1", "rootca-10.0.0.2", "rootca-client", "client"},
		truststoreAliases(t, fake, o.Layout().Truststore))

	statuses, err := o.Status(ctx, Options{Mode: PerEntity, Nodes: []string{"10.0.0.1", "10.0.0.2"}, Client: true, Passphrases: testPass})
	require.NoError(t, err)
	for _, st := range statuses {
		assert.Equal(t, Done, st.State, st.Target)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	for _, mode := range Modes {
		t.Run(string(mode), func(t *testing.T) {
			ctx, cancel := testutil.NewTestContext()
			defer cancel()
			o, fake, dir := newFakeOrchestrator(t)
			opts := Options{Mode: mode, Nodes: []string{"n1", "n2", "n3"}, Client: true, Passphrases: testPass, Parallelism: 3}

			_, err := o.Run(ctx, opts)
			require.NoError(t, err)
			before := testutil.Snapshot(t, dir)
			fake.Reset()

			summary, err := o.Run(ctx, opts)
			require.NoError(t, err)
			assert.Zero(t, fake.Mutations())
			assert.Equal(t, before, testutil.Snapshot(t, dir))
			assert.Empty(t, summary.Provisioned)
			assert.Empty(t, summary.Anchored)
			assert.ElementsMatch(t, []string{"n1", "n2", "n3", "client"}, summary.Skipped)
		})
	}
}

func TestRunSharedWithFake(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	o, fake, dir := newFakeOrchestrator(t)

	_, err := o.Run(ctx, Options{Mode: Shared, Nodes: []string{"n1", "n2"}, Client: true, Passphrases: testPass})
	require.NoError(t, err)

	assert.Equal(t, 1, fake.Count(toolchaintest.OpCreateSelfSigned))
	assert.FileExists(t, filepath.Join(dir, "rootCa.key"))
	assert.FileExists(t, filepath.Join(dir, "client", "client.crt"))
	assert.NoFileExists(t, filepath.Join(dir, "client", "rootCa-client.key"))
	for _, node := range []string{"n1", "n2"} {
		assert.NoFileExists(t, filepath.Join(dir, node, "rootCa-"+node+".key"))
		assert.FileExists(t, filepath.Join(dir, node, node+".crt"))
	}
	assert.ElementsMatch(t, []string{"rootca", "n1", "n2", "client"}, truststoreAliases(t, fake, o.Layout().Truststore))

	// Pass 2 only starts once every keystore exists.
	calls := fake.Calls()
	lastKeystore, firstExport := -1, len(calls)
	for i, c := range calls {
		if c.Op == toolchaintest.OpGenerateKeyPair {
			lastKeystore = i
		}
		if c.Op == toolchaintest.OpExportCertificate && i < firstExport {
			firstExport = i
		}
	}
	assert.Less(t, lastKeystore, firstExport)
}

func TestRunHealsMissingTrustAnchor(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	o, fake, _ := newFakeOrchestrator(t)
	opts := Options{Mode: PerEntity, Nodes: []string{"n1"}, Passphrases: testPass}

	_, err := o.Run(ctx, opts)
	require.NoError(t, err)
	// Simulate a run killed between keystore rename and truststore import.
	require.NoError(t, os.Remove(o.Layout().Truststore))

	statuses, err := o.Status(ctx, opts)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, KeystoreBuilt, statuses[0].State)
	fake.Reset()

	summary, err := o.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"rootCa-n1"}, summary.Anchored)
	assert.Zero(t, fake.Count(toolchaintest.OpGenerateKeyPair))
	assert.Zero(t, fake.Count(toolchaintest.OpCreateSelfSigned))
	assert.Equal(t, 1, fake.Count(toolchaintest.OpImportCertificate))
}

func TestRunResumesNodeDirectoryWithoutKeystore(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	o, fake, dir := newFakeOrchestrator(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "n1"), 0o755))

	statuses, err := o.Status(ctx, Options{Nodes: []string{"n1"}, Passphrases: testPass})
	require.NoError(t, err)
	assert.Equal(t, NotStarted, statuses[0].State)

	_, err = o.Run(ctx, Options{Nodes: []string{"n1"}, Passphrases: testPass})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Count(toolchaintest.OpGenerateKeyPair))
	assert.FileExists(t, filepath.Join(dir, "n1", "n1.jks"))
}

func TestRunStopsOnToolFailure(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	o, fake, dir := newFakeOrchestrator(t)
	fake.FailOn(toolchaintest.OpGenerateKeyPair, assert.AnError)

	_, err := o.Run(ctx, Options{Nodes: []string{"n1", "n2"}, Passphrases: testPass})
	require.Error(t, err)
	assert.True(t, errors.IsTool(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoFileExists(t, filepath.Join(dir, "n1", "n1.jks"))
	assert.NoFileExists(t, filepath.Join(dir, "n1", "n1.jks.partial"))
}

func TestRunRefusesKeystoreWithoutAuthority(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	o, fake, dir := newFakeOrchestrator(t)
	opts := Options{Nodes: []string{"n1"}, Passphrases: testPass}

	_, err := o.Run(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "n1", "rootCa-n1.key")))
	require.NoError(t, os.Remove(filepath.Join(dir, "n1", "rootCa-n1.crt")))
	fake.Reset()

	_, err = o.Run(ctx, opts)
	require.Error(t, err)
	assert.Zero(t, fake.Mutations())
}

func TestRunStopsOnUnreadableKeystore(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	o, fake, dir := newFakeOrchestrator(t)
	opts := Options{Nodes: []string{"n1"}, Passphrases: testPass}

	_, err := o.Run(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "n1", "rootCa-n1.key")))
	require.NoError(t, os.Remove(filepath.Join(dir, "n1", "rootCa-n1.crt")))
	fake.Reset()

	opts.Passphrases.Store = "wrongKeyPass"
	_, err = o.Run(ctx, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be read")
	assert.Zero(t, fake.Mutations())
	assert.NoFileExists(t, filepath.Join(dir, "n1", "rootCa-n1.key"))
}

func TestStatusStages(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	o, _, dir := newFakeOrchestrator(t)
	opts := Options{Mode: Shared, Nodes: []string{"n1"}, Passphrases: testPass}

	_, err := o.Run(ctx, opts)
	require.NoError(t, err)

	statuses, err := o.Status(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, Done, statuses[0].State)

	// Without the leaf anchor a shared-mode node stops at TrustAnchored.
	require.NoError(t, os.Remove(o.Layout().Truststore))
	other := toolchaintest.New()
	require.NoError(t, other.ImportCertificate(ctx, o.Layout().Truststore, "rootCa", filepath.Join(dir, "rootCa.crt"), testPass.Store))

	statuses, err = o.Status(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, TrustAnchored, statuses[0].State)
	assert.Contains(t, statuses[0].Detail, "n1")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NotStarted", NotStarted.String())
	assert.Equal(t, "Done", Done.String())
	assert.Equal(t, "State(42)", State(42).String())

	text, err := KeystoreBuilt.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "KeystoreBuilt", string(text))
}
