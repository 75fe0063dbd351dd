package provision

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/clustertls/internal/layout"
	"github.com/coral-mesh/clustertls/internal/subject"
	"github.com/coral-mesh/clustertls/internal/testutil"
	"github.com/coral-mesh/clustertls/internal/toolchain"
)

func newNativeOrchestrator(t *testing.T) (*Orchestrator, *toolchain.Native, string) {
	if testing.Short() {
		t.Skip("generates RSA keys")
	}
	dir := t.TempDir()
	logger := testutil.NewTestLogger(t)
	native := toolchain.NewNative(logger)
	return New(layout.New(dir, ""), native, subject.Default(), logger), native, dir
}

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	certs, err := toolchain.DecodeCertificates(data)
	require.NoError(t, err)
	return certs[0]
}

// assertKeystoreComplete checks the two-alias invariant and that the stored
// leaf verifies against the authority certificate.
func assertKeystoreComplete(t *testing.T, native *toolchain.Native, dir, node, caCert, caAlias string) {
	t.Helper()
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	ks := filepath.Join(dir, node, node+".jks")
	entries, err := native.Entries(ctx, ks, testPass.Store)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	aliases := map[string]toolchain.Entry{}
	for _, e := range entries {
		aliases[e.Alias] = e
	}
	leafEntry, ok := aliases[strings.ToLower(node)]
	require.True(t, ok)
	assert.Equal(t, toolchain.PrivateKeyEntry, leafEntry.Kind)
	assert.Equal(t, 2, leafEntry.ChainLength)
	caEntry, ok := aliases[strings.ToLower(caAlias)]
	require.True(t, ok)
	assert.Equal(t, toolchain.TrustedCertEntry, caEntry.Kind)

	out := filepath.Join(t.TempDir(), node+".pem")
	require.NoError(t, native.ExportCertificate(ctx, ks, node, testPass.Store, out))
	leaf := readCert(t, out)
	ca := readCert(t, caCert)
	assert.NoError(t, leaf.CheckSignatureFrom(ca))
	assert.Equal(t, node, leaf.Subject.CommonName)

	pool := x509.NewCertPool()
	pool.AddCert(ca)
	_, err = leaf.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}})
	assert.NoError(t, err)
}

func TestEndToEndShared(t *testing.T) {
	o, native, dir := newNativeOrchestrator(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	nodes := []string{"10.0.0.1", "10.0.0.2"}

	_, err := o.Run(ctx, Options{Mode: Shared, Nodes: nodes, Passphrases: testPass, Parallelism: 2})
	require.NoError(t, err)

	caCert := filepath.Join(dir, "rootCa.crt")
	assert.FileExists(t, filepath.Join(dir, "rootCa.key"))
	for _, node := range nodes {
		assertKeystoreComplete(t, native, dir, node, caCert, "rootCa")
		assert.NoFileExists(t, filepath.Join(dir, node, "rootCa-"+node+".key"))
		assert.FileExists(t, filepath.Join(dir, node, node+".crt"))
	}
	assert.NoDirExists(t, filepath.Join(dir, "client"))

	entries, err := native.Entries(ctx, o.Layout().Truststore, testPass.Store)
	require.NoError(t, err)
	var aliases []string
	for _, e := range entries {
		assert.Equal(t, toolchain.TrustedCertEntry, e.Kind)
		aliases = append(aliases, e.Alias)
	}
	assert.ElementsMatch(t, []string{"rootca", "10.0.0.1", "10.0.0.2"}, aliases)

	// Both leaves come from one serial counter.
	a := readCert(t, filepath.Join(dir, "10.0.0.1", "10.0.0.1.crt"))
	b := readCert(t, filepath.Join(dir, "10.0.0.2", "10.0.0.2.crt"))
	assert.NotEqual(t, a.SerialNumber, b.SerialNumber)
}

func TestEndToEndPerEntityIdempotent(t *testing.T) {
	o, native, dir := newNativeOrchestrator(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	opts := Options{Mode: PerEntity, Nodes: []string{"node1", "node2"}, Client: true, Passphrases: testPass}

	_, err := o.Run(ctx, opts)
	require.NoError(t, err)

	for _, node := range opts.Nodes {
		assertKeystoreComplete(t, native, dir, node, filepath.Join(dir, node, "rootCa-"+node+".crt"), "rootCa-"+node)
	}
	assert.NoFileExists(t, filepath.Join(dir, "rootCa.key"))
	assert.NoFileExists(t, filepath.Join(dir, "rootCa.crt"))

	client := readCert(t, filepath.Join(dir, "client", "client.crt"))
	clientCA := readCert(t, filepath.Join(dir, "client", "rootCa-client.crt"))
	assert.NoError(t, client.CheckSignatureFrom(clientCA))
	assert.Equal(t, "cqlsh-client", client.Subject.CommonName)
	assert.NoFileExists(t, filepath.Join(dir, "client", "client.csr"))

	before := testutil.Snapshot(t, dir)
	summary, err := o.Run(ctx, opts)
	require.NoError(t, err)
	assert.Empty(t, summary.Provisioned)
	assert.Equal(t, before, testutil.Snapshot(t, dir))

	entries, err := native.Entries(ctx, o.Layout().Truststore, testPass.Store)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
