package tpmdevice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

type tpm2Sealer struct {
	dev *Device
}

type sealedBlobV1 struct {
	V     int    `json:"v"`
	Label string `json:"label"`
	Priv  []byte `json:"priv"` // []byte becomes base64 automatically in JSON
	Pub   []byte `json:"pub"`
}

// NewSealer returns a Sealer on the default TPM device.
func NewSealer(ownerAuth string) Sealer {
	return New(Config{OwnerAuth: ownerAuth}).Sealer()
}

func (s *tpm2Sealer) Seal(ctx context.Context, label string, secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("tpmdevice: secret empty")
	}

	var privBlob, pubBlob []byte
	err := s.dev.with(ctx, func(rw io.ReadWriter) error {
		parent, err := createPrimaryStorageKey(rw, s.dev.cfg.OwnerAuth)
		if err != nil {
			return err
		}
		defer tpm2.FlushContext(rw, parent)

		// sealed data object: KeyedHash with AlgNull
		pub := tpm2.Public{
			Type:    tpm2.AlgKeyedHash,
			NameAlg: tpm2.AlgSHA256,
			Attributes: tpm2.FlagFixedTPM |
				tpm2.FlagFixedParent |
				tpm2.FlagUserWithAuth |
				tpm2.FlagNoDA,
			KeyedHashParameters: &tpm2.KeyedHashParams{
				Alg: tpm2.AlgNull,
			},
		}

		privBlob, pubBlob, _, _, _, err = tpm2.CreateKeyWithSensitive(
			rw,
			parent,
			tpm2.PCRSelection{},
			"",
			s.dev.cfg.OwnerAuth,
			pub,
			secret,
		)
		if err != nil {
			return fmt.Errorf("tpmdevice: CreateKeyWithSensitive: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(sealedBlobV1{
		V:     1,
		Label: label,
		Priv:  privBlob,
		Pub:   pubBlob,
	})
	if err != nil {
		return nil, fmt.Errorf("tpmdevice: marshal sealed blob: %w", err)
	}
	return out, nil
}

func (s *tpm2Sealer) Unseal(ctx context.Context, label string, blob []byte) ([]byte, error) {
	var sb sealedBlobV1
	if err := json.Unmarshal(blob, &sb); err != nil {
		return nil, fmt.Errorf("tpmdevice: unmarshal sealed blob: %w", err)
	}
	if sb.V != 1 {
		return nil, fmt.Errorf("tpmdevice: unsupported sealed blob version: %d", sb.V)
	}
	if sb.Label != "" && sb.Label != label {
		return nil, errors.New("tpmdevice: sealed blob label mismatch")
	}

	var secret []byte
	err := s.dev.with(ctx, func(rw io.ReadWriter) error {
		parent, err := createPrimaryStorageKey(rw, s.dev.cfg.OwnerAuth)
		if err != nil {
			return err
		}
		defer tpm2.FlushContext(rw, parent)

		h, _, err := tpm2.Load(rw, parent, "", sb.Pub, sb.Priv)
		if err != nil {
			return fmt.Errorf("tpmdevice: Load(sealed): %w", err)
		}
		defer tpm2.FlushContext(rw, h)

		secret, err = tpm2.Unseal(rw, h, "")
		if err != nil {
			return fmt.Errorf("tpmdevice: Unseal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return secret, nil
}

func storageTemplate() tpm2.Public {
	return tpm2.Public{
		Type:    tpm2.AlgECC,
		NameAlg: tpm2.AlgSHA256,
		Attributes: tpm2.FlagDecrypt |
			tpm2.FlagRestricted |
			tpm2.FlagFixedTPM |
			tpm2.FlagFixedParent |
			tpm2.FlagSensitiveDataOrigin |
			tpm2.FlagUserWithAuth,
		ECCParameters: &tpm2.ECCParams{
			CurveID: tpm2.CurveNISTP256,
		},
	}
}

func createPrimaryStorageKey(rw io.ReadWriter, ownerAuth string) (tpmutil.Handle, error) {
	h, _, err := tpm2.CreatePrimary(
		rw,
		tpm2.HandleOwner,
		tpm2.PCRSelection{},
		"",        // parentPassword
		ownerAuth, // ownerPassword
		storageTemplate(),
	)
	if err != nil {
		return 0, fmt.Errorf("tpmdevice: CreatePrimary(storage): %w", err)
	}
	return h, nil
}
