package main

import (
	_ "embed"
	"time"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-go-drm/config"
	"github.com/quantumauth-io/quantum-go-drm/cryptoctx"
	"github.com/quantumauth-io/quantum-go-drm/database"
	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/policy"
	"github.com/quantumauth-io/quantum-go-drm/redis"
)

const envPrefix = "DRMCTL"

//go:embed config.yaml
var defaultConfig []byte

type Config struct {
	Log      log.Config
	Platform PlatformConfig
	Enclave  EnclaveConfig
	Store    StoreConfig
	Policy   PolicyConfig
}

type PlatformConfig struct {
	Kind            string // simulated | tpm
	Counters        string // memory | redis, simulated only
	SecurityVersion uint16
	RootKeyPath     string
	RootKeyLabel    string
	TPM             TPMConfig
	Redis           redis.Config
}

type TPMConfig struct {
	OwnerAuth   string
	CounterBase uint32
	MaxCounters int
	SealRootKey bool
}

type EnclaveConfig struct {
	Dir       string
	Name      string
	SignerKey string
}

type StoreConfig struct {
	Kind     string // file | redis | sql
	Dir      string
	Driver   string // pgx | sql
	Redis    redis.Config
	Database database.DatabaseSettings
}

type PolicyConfig struct {
	LeaseDuration             time.Duration
	MaxReleaseVersion         uint32
	MinPlatformServiceVersion uint16
	KeyPolicy                 string // signer | enclave
}

func loadConfig(path string) (*Config, error) {
	opts := config.Options{
		Paths:     []string{".", "/etc/drmctl"},
		EnvPrefix: envPrefix,
		Embedded:  defaultConfig,
	}
	if path != "" {
		opts.File = path
	}
	cfg, err := config.Load[Config](opts)
	if err != nil {
		return nil, errors.Wrap(err, "load drmctl config")
	}
	return cfg, nil
}

// policyConfig applies the configured overrides on top of the defaults.
func (c PolicyConfig) policyConfig() (policy.Config, error) {
	pc := policy.DefaultConfig()
	if c.LeaseDuration > 0 {
		pc.LeaseDuration = c.LeaseDuration
	}
	if c.MaxReleaseVersion > 0 {
		pc.MaxReleaseVersion = c.MaxReleaseVersion
	}
	pc.MinPlatformServiceVersion = c.MinPlatformServiceVersion

	switch c.KeyPolicy {
	case "", "signer":
		pc.KeyPolicy = cryptoctx.KeyPolicySigner
	case "enclave":
		pc.KeyPolicy = cryptoctx.KeyPolicyEnclave
	default:
		return policy.Config{}, errors.Errorf("unknown key policy %q", c.KeyPolicy)
	}

	if err := pc.Validate(); err != nil {
		return policy.Config{}, errors.Wrap(err, "policy config")
	}
	return pc, nil
}
