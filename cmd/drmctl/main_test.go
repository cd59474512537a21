package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/quantumauth-io/quantum-go-drm/cryptoctx"
	"github.com/quantumauth-io/quantum-go-drm/policy"
	"github.com/quantumauth-io/quantum-go-drm/status"
)

const testConfig = `
log:
  level: error
platform:
  kind: simulated
  rootkeypath: %[1]s/rootkey.json
enclave:
  dir: %[1]s/enclave
  name: drm.signed
  signerkey: %[1]s/signer.pub.json
store:
  kind: file
  dir: %[1]s/blobs
policy:
  leaseduration: 1s
`

type harness struct {
	dir string
	cfg string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{dir: dir, cfg: filepath.Join(dir, "drmctl.yaml")}
	require.NoError(t, os.WriteFile(h.cfg, []byte(fmt.Sprintf(testConfig, dir)), 0o600))

	_, err := h.run(t, "enclave", "keygen",
		"--out", filepath.Join(dir, "signer.json"),
		"--pub", filepath.Join(dir, "signer.pub.json"))
	require.NoError(t, err)

	artifact := filepath.Join(dir, "enclave", "drm.signed")
	require.NoError(t, os.MkdirAll(filepath.Dir(artifact), 0o755))
	require.NoError(t, os.WriteFile(artifact, []byte("drm enclave build 1"), 0o644))
	_, err = h.run(t, "enclave", "sign",
		"--signer", filepath.Join(dir, "signer.json"),
		"--artifact", artifact,
		"--svn", "2")
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.Writer = &out
	err := root.Run(context.Background(), append([]string{"drmctl", "--config", h.cfg}, args...))
	return out.String(), err
}

func exitStatus(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	ec, ok := err.(cli.ExitCoder)
	require.True(t, ok, "expected exit coder, got %v", err)
	return ec.ExitCode()
}

func TestReplayDemo(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "replay", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "perform old blob")
	assert.Contains(t, out, status.ReplayDetected.Message())
}

func TestLeaseDemo(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the lease to expire")
	}
	h := newHarness(t)
	out, err := h.run(t, "lease", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, status.LeaseExpired.Message())
}

func TestReplayInitStoresBlob(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "--key", "movie", "replay", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "replay init: Success.")

	blob, err := os.ReadFile(filepath.Join(h.dir, "blobs", "movie.blob"))
	require.NoError(t, err)
	assert.Len(t, blob, policy.DefaultReplayBlobSize)

	out, err = h.run(t, "--key", "movie", "replay", "show")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("bytes:  %d", policy.DefaultReplayBlobSize))

	// in-memory counters do not outlive the process that created them
	_, err = h.run(t, "--key", "movie", "replay", "perform")
	assert.Equal(t, 2, exitStatus(t, err))
	after, err := os.ReadFile(filepath.Join(h.dir, "blobs", "movie.blob"))
	require.NoError(t, err)
	assert.Equal(t, blob, after)
}

func TestLeaseAcrossProcessesSeesNewTimeSource(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "--key", "rental", "lease", "init")
	require.NoError(t, err)

	_, err = h.run(t, "--key", "rental", "lease", "perform")
	assert.Equal(t, 2, exitStatus(t, err))
	assert.Contains(t, err.Error(), status.TimesourceChanged.Message())
}

func TestTamperedBlobIsUntrusted(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "--key", "k", "replay", "init")
	require.NoError(t, err)

	path := filepath.Join(h.dir, "blobs", "k.blob")
	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0x01
	require.NoError(t, cryptoctx.AtomicWriteFile(path, blob, 0o600))

	_, err = h.run(t, "--key", "k", "replay", "perform")
	assert.Equal(t, 3, exitStatus(t, err))
}

func TestMissingBlob(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "--key", "nope", "replay", "perform")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob not found")
}

func TestUnsignedEnclaveLeavesSessionInert(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.Remove(filepath.Join(h.dir, "enclave", "drm.signed.sigstruct.json")))

	_, err := h.run(t, "replay", "init")
	code := exitStatus(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, err.Error(), status.InvalidEnclaveID.Message())
}

func TestEnclaveSignRejectsWideSVN(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "enclave", "sign",
		"--signer", filepath.Join(h.dir, "signer.json"),
		"--artifact", filepath.Join(h.dir, "enclave", "drm.signed"),
		"--svn", "70000")
	assert.Error(t, err)
}
