// Package enclave loads signed DRM enclave artifacts and runs the policy
// engine behind a boundary that behaves like an ecall: the trusted code sees
// its own copy of the buffer and the caller only sees the result on success.
package enclave

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-go-drm/cryptoctx"
	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/policy"
	"github.com/quantumauth-io/quantum-go-drm/status"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

type Config struct {
	// Dir holds the enclave artifacts and their sigstructs.
	Dir string
	// SignerPublicKey is the marshalled ML-DSA-65 key enclaves must be signed with.
	SignerPublicKey []byte
	// RootKey is the platform seal key (see cryptoctx.LoadOrCreateRootKey).
	RootKey  []byte
	Platform tee.PlatformServices
	Policy   policy.Config
}

// Loader implements tee.Loader.
type Loader struct {
	cfg      Config
	signerID [32]byte
}

var _ tee.Loader = (*Loader)(nil)

func NewLoader(cfg Config) (*Loader, error) {
	if len(cfg.SignerPublicKey) == 0 {
		return nil, errors.New("enclave: signer public key is required")
	}
	if _, err := scheme().UnmarshalBinaryPublicKey(cfg.SignerPublicKey); err != nil {
		return nil, errors.Wrap(err, "enclave: invalid signer public key")
	}
	if cfg.Platform == nil {
		return nil, errors.New("enclave: platform services are required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, errors.Wrap(err, "enclave: policy config")
	}
	return &Loader{cfg: cfg, signerID: SignerID(cfg.SignerPublicKey)}, nil
}

// Create loads and verifies the artifact called name. Failures carry a
// status.Status: EnclaveFileAccess, InvalidSignature or InvalidEnclave.
func (l *Loader) Create(ctx context.Context, name string) (tee.Enclave, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(status.Unexpected, err.Error())
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, errors.Wrapf(status.InvalidEnclave, "enclave: bad artifact name %q", name)
	}

	path := filepath.Join(l.cfg.Dir, name)
	artifact, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(status.EnclaveFileAccess, "enclave: read %s: %v", path, err)
	}
	if len(artifact) == 0 {
		return nil, errors.Wrapf(status.InvalidEnclave, "enclave: %s is empty", path)
	}

	sig, err := readSigStruct(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(status.InvalidSignature, "enclave: %s is not signed", path)
		}
		return nil, errors.Wrapf(status.EnclaveFileAccess, "enclave: sigstruct for %s: %v", path, err)
	}
	if err := sig.Verify(artifact, l.cfg.SignerPublicKey); err != nil {
		return nil, errors.Wrapf(status.InvalidSignature, "enclave: %s: %v", path, err)
	}

	identity := cryptoctx.Identity{
		UniqueID:  sha256.Sum256(artifact),
		SignerID:  l.signerID,
		ProductID: sig.ProductID,
	}
	rt, err := cryptoctx.New(l.cfg.RootKey, identity, sig.SecurityVersion)
	if err != nil {
		return nil, errors.Wrapf(status.InvalidEnclave, "enclave: sealing runtime: %v", err)
	}
	engine, err := policy.NewEngine(l.cfg.Policy, rt, l.cfg.Platform)
	if err != nil {
		rt.Close()
		return nil, errors.Wrapf(status.InvalidEnclave, "enclave: policy engine: %v", err)
	}

	e := newInstance(name, engine, l.cfg.Policy.Layout(), rt.Close)
	log.Info("enclave created",
		"enclave", e.ID(),
		"name", name,
		"product", sig.ProductID,
		"svn", sig.SecurityVersion,
	)
	return e, nil
}

// NewInstance wraps compute in the enclave boundary without loading an
// artifact, for hosts that embed the policy engine directly.
func NewInstance(name string, compute tee.TrustedCompute, layout tee.BlobLayout) tee.Enclave {
	return newInstance(name, compute, layout, nil)
}

func newID() string {
	return uuid.NewString()
}
