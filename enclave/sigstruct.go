package enclave

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-go-drm/cryptoctx"
)

const (
	SchemeName      = "ML-DSA-65"
	SigStructSuffix = ".sigstruct.json"
	sigstructDomain = "qdrm-sigstruct-v1"
)

// SigStruct is the signature over an enclave artifact, stored next to it as
// <artifact>.sigstruct.json.
type SigStruct struct {
	ProductID       uint16 `json:"product_id"`
	SecurityVersion uint16 `json:"security_version"`
	Signature       []byte `json:"signature"`
}

func sigstructMessage(artifact []byte, productID, svn uint16) []byte {
	digest := sha256.Sum256(artifact)
	msg := make([]byte, 0, len(sigstructDomain)+len(digest)+4)
	msg = append(msg, sigstructDomain...)
	msg = append(msg, digest[:]...)
	msg = binary.LittleEndian.AppendUint16(msg, productID)
	msg = binary.LittleEndian.AppendUint16(msg, svn)
	return msg
}

func scheme() sign.Scheme {
	return schemes.ByName(SchemeName)
}

// SignerKey is an ML-DSA-65 enclave signing key pair.
type SignerKey struct {
	Pub  []byte
	Priv []byte
}

type signerKeyFileV1 struct {
	V       int    `json:"v"`
	Scheme  string `json:"scheme"`
	PubB64  string `json:"pub_b64"`
	PrivB64 string `json:"priv_b64,omitempty"`
}

func GenerateSignerKey() (*SignerKey, error) {
	pk, sk, err := scheme().GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "enclave: signer keygen")
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "enclave: marshal signer pub")
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "enclave: marshal signer priv")
	}
	return &SignerKey{Pub: pub, Priv: priv}, nil
}

// Zeroize wipes the private half.
func (k *SignerKey) Zeroize() {
	for i := range k.Priv {
		k.Priv[i] = 0
	}
	k.Priv = nil
}

// SignerID is the MRSIGNER-style measurement of a public key.
func SignerID(pub []byte) [32]byte {
	return sha256.Sum256(pub)
}

// WriteSignerKey stores k at path (0600). With publicOnly the private key is
// left out, producing the file the loader is configured with.
func WriteSignerKey(path string, k *SignerKey, publicOnly bool) error {
	f := signerKeyFileV1{
		V:      1,
		Scheme: SchemeName,
		PubB64: base64.StdEncoding.EncodeToString(k.Pub),
	}
	if !publicOnly {
		f.PrivB64 = base64.StdEncoding.EncodeToString(k.Priv)
	}
	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrap(err, "enclave: marshal signer key")
	}
	return cryptoctx.AtomicWriteFile(path, out, 0o600)
}

// ReadSignerKey loads a key file. Priv is nil for public-only files.
func ReadSignerKey(path string) (*SignerKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "enclave: read signer key %s", path)
	}
	var f signerKeyFileV1
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "enclave: unmarshal signer key")
	}
	if f.V != 1 || f.Scheme != SchemeName {
		return nil, errors.Errorf("enclave: unsupported signer key (v=%d scheme=%q)", f.V, f.Scheme)
	}
	k := &SignerKey{}
	if k.Pub, err = base64.StdEncoding.DecodeString(f.PubB64); err != nil {
		return nil, errors.Wrap(err, "enclave: decode signer pub")
	}
	if f.PrivB64 != "" {
		if k.Priv, err = base64.StdEncoding.DecodeString(f.PrivB64); err != nil {
			return nil, errors.Wrap(err, "enclave: decode signer priv")
		}
	}
	return k, nil
}

// Sign produces the SigStruct of artifact.
func Sign(artifact []byte, productID, securityVersion uint16, k *SignerKey) (*SigStruct, error) {
	if len(k.Priv) == 0 {
		return nil, errors.New("enclave: signer key has no private part")
	}
	sk, err := scheme().UnmarshalBinaryPrivateKey(k.Priv)
	if err != nil {
		return nil, errors.Wrap(err, "enclave: unmarshal signer priv")
	}
	sig := scheme().Sign(sk, sigstructMessage(artifact, productID, securityVersion), nil)
	if sig == nil {
		return nil, errors.New("enclave: sign failed")
	}
	return &SigStruct{ProductID: productID, SecurityVersion: securityVersion, Signature: sig}, nil
}

// Verify checks s against artifact and the signer public key.
func (s *SigStruct) Verify(artifact, signerPub []byte) error {
	pk, err := scheme().UnmarshalBinaryPublicKey(signerPub)
	if err != nil {
		return errors.Wrap(err, "enclave: unmarshal signer pub")
	}
	if !scheme().Verify(pk, sigstructMessage(artifact, s.ProductID, s.SecurityVersion), s.Signature, nil) {
		return errors.New("enclave: sigstruct signature mismatch")
	}
	return nil
}

// WriteSigStruct stores s next to the artifact at artifactPath.
func WriteSigStruct(artifactPath string, s *SigStruct) error {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "enclave: marshal sigstruct")
	}
	return cryptoctx.AtomicWriteFile(artifactPath+SigStructSuffix, out, 0o644)
}

func readSigStruct(artifactPath string) (*SigStruct, error) {
	b, err := os.ReadFile(artifactPath + SigStructSuffix)
	if err != nil {
		return nil, err
	}
	var s SigStruct
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("enclave: unmarshal sigstruct: %w", err)
	}
	return &s, nil
}
