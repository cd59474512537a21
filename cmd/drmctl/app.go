package main

import (
	"context"

	"github.com/google/go-tpm/tpmutil"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-go-drm/cryptoctx"
	"github.com/quantumauth-io/quantum-go-drm/database"
	"github.com/quantumauth-io/quantum-go-drm/enclave"
	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/platform"
	"github.com/quantumauth-io/quantum-go-drm/redis"
	"github.com/quantumauth-io/quantum-go-drm/store"
	"github.com/quantumauth-io/quantum-go-drm/tee"
	"github.com/quantumauth-io/quantum-go-drm/tpmdevice"
)

// app is everything one drmctl invocation needs to run a DRM operation.
type app struct {
	cfg     *Config
	loader  tee.Loader
	caps    tee.CapabilityProvider
	store   store.BlobStore
	closers []func() error
}

func newApp(ctx context.Context, cfg *Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	services, sealer, err := a.platform(ctx)
	if err != nil {
		return err
	}

	rootKey, err := cryptoctx.LoadOrCreateRootKey(ctx, cryptoctx.RootKeyOptions{
		Path:   cfg.Platform.RootKeyPath,
		Sealer: sealer,
		Label:  cfg.Platform.RootKeyLabel,
	})
	if err != nil {
		return errors.Wrap(err, "root seal key")
	}
	a.closers = append(a.closers, func() error {
		for i := range rootKey {
			rootKey[i] = 0
		}
		return nil
	})

	signer, err := enclave.ReadSignerKey(cfg.Enclave.SignerKey)
	if err != nil {
		return errors.Wrap(err, "enclave signer key")
	}
	pc, err := cfg.Policy.policyConfig()
	if err != nil {
		return err
	}
	pc.Action = protectedFunction

	a.loader, err = enclave.NewLoader(enclave.Config{
		Dir:             cfg.Enclave.Dir,
		SignerPublicKey: signer.Pub,
		RootKey:         rootKey,
		Platform:        services,
		Policy:          pc,
	})
	if err != nil {
		return err
	}

	a.store, err = a.blobStore(ctx)
	return err
}

func (a *app) platform(ctx context.Context) (tee.PlatformServices, tpmdevice.Sealer, error) {
	pcfg := a.cfg.Platform
	switch pcfg.Kind {
	case "", "simulated":
		var opts []platform.Option
		if pcfg.SecurityVersion > 0 {
			opts = append(opts, platform.WithSecurityVersion(pcfg.SecurityVersion))
		}
		switch pcfg.Counters {
		case "", "memory":
		case "redis":
			rdb, err := redis.NewClient(ctx, pcfg.Redis)
			if err != nil {
				return nil, nil, err
			}
			a.closers = append(a.closers, rdb.Close)
			opts = append(opts, platform.WithCounters(platform.NewRedisCounters(rdb, pcfg.Redis)))
		default:
			return nil, nil, errors.Errorf("unknown counter backend %q", pcfg.Counters)
		}
		sim := platform.NewSimulated(opts...)
		a.caps = sim
		return sim, nil, nil

	case "tpm":
		dev := tpmdevice.New(tpmdevice.Config{
			OwnerAuth:       pcfg.TPM.OwnerAuth,
			CounterBase:     tpmutil.Handle(pcfg.TPM.CounterBase),
			MaxCounters:     pcfg.TPM.MaxCounters,
			SecurityVersion: pcfg.SecurityVersion,
		})
		a.caps = dev
		if pcfg.TPM.SealRootKey {
			return dev, dev.Sealer(), nil
		}
		return dev, nil, nil
	}
	return nil, nil, errors.Errorf("unknown platform %q", pcfg.Kind)
}

func (a *app) blobStore(ctx context.Context) (store.BlobStore, error) {
	scfg := a.cfg.Store
	switch scfg.Kind {
	case "", "file":
		return store.NewFileStore(scfg.Dir), nil

	case "redis":
		rdb, err := redis.NewClient(ctx, scfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		return store.NewRedisStore(rdb, scfg.Redis), nil

	case "sql":
		var (
			db  database.Database
			err error
		)
		switch scfg.Driver {
		case "", "pgx":
			db, err = database.NewCockroachPGXDatabase(ctx, scfg.Database)
		case "sql":
			db, err = database.NewCockroachSQLDatabase(ctx, scfg.Database)
		default:
			return nil, errors.Errorf("unknown database driver %q", scfg.Driver)
		}
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, errors.Wrap(err, "migrate sealed_blobs")
		}
		return store.NewSQLStore(db), nil
	}
	return nil, errors.Errorf("unknown store %q", scfg.Kind)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// protectedFunction stands in for the content the policy guards.
func protectedFunction(_ context.Context, op tee.Operation, secret []byte) error {
	log.Debug("drmctl: protected function ran", "op", op.String(), "secretLen", len(secret))
	return nil
}
