package config

import (
	"bytes"
	"strings"

	"github.com/fatih/structs"
	"github.com/jeremywohl/flatten"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Options controls where configuration is read from. Every key of T can also be
// overridden from the environment as PREFIX_SECTION_KEY.
type Options struct {
	// File is an explicit config file; when set, Paths is ignored.
	File string
	// Paths are searched for config.yaml.
	Paths []string
	// EnvPrefix is prepended to environment variable names, e.g. "DRM".
	EnvPrefix string
	// Embedded is used when no config file is found.
	Embedded []byte
}

// ParseConfig loads config.yaml from configFilePaths with no embedded defaults.
func ParseConfig[T interface{}](configFilePaths []string) (*T, error) {
	return Load[T](Options{Paths: configFilePaths})
}

// ParseConfigWithEmbedded tries to load config from disk,
// and if the file is NOT found, falls back to embeddedYAML (if provided).
func ParseConfigWithEmbedded[T interface{}](configFilePaths []string, embeddedYAML []byte) (*T, error) {
	return Load[T](Options{Paths: configFilePaths, Embedded: embeddedYAML})
}

func Load[T interface{}](opts Options) (*T, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		for _, p := range opts.Paths {
			v.AddConfigPath(p)
		}
		v.SetConfigName("config")
	}

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindAllConfigKeys[T](v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var nfErr viper.ConfigFileNotFoundError
		if errors.As(err, &nfErr) && len(opts.Embedded) > 0 {
			if err2 := v.ReadConfig(bytes.NewReader(opts.Embedded)); err2 != nil {
				return nil, errors.Wrap(err2, "failed to load embedded default config")
			}
		} else if opts.File == "" && errors.As(err, &nfErr) {
			// No file and no defaults: env vars alone may still fill T.
		} else {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	var c T
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "Unable to decode into struct")
	}

	return &c, nil
}

// Workaround for major viper issue with env variables, documented here
// https://github.com/spf13/viper/issues/761
func bindAllConfigKeys[T interface{}](v *viper.Viper) error {
	var cd T
	// Transform config struct to map
	confMap := structs.Map(cd)

	// Flatten nested conf map
	flat, err := flatten.Flatten(confMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten config")
	}

	// Bind each conf field to environment vars
	for key := range flat {
		if err := v.BindEnv(key); err != nil {
			return errors.Wrapf(err, "Unable to bind env var: %s", key)
		}
	}
	return nil
}
