// Package config provides layered configuration loading for the causeway
// binary. Defaults are merged with environment variables and validated.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CAUSEWAY_"

// Config holds the merged runtime configuration.
type Config struct {
	// SatelliteAddr is the address of the satellite to talk to. Empty
	// means run an embedded satellite on a loopback listener.
	SatelliteAddr string `koanf:"satellite_addr"`
	// APIKey is the serialized key, base64url encoded. Empty means mint
	// a key from the satellite credentials.
	APIKey string `koanf:"api_key"`

	BucketName string `koanf:"bucket_name" validate:"required"`
	DataDir    string `koanf:"data_dir" validate:"required"`
	Region     string `koanf:"region" validate:"required"`

	// MaxObjectBytes caps a single upload; zero disables the cap.
	MaxObjectBytes int64 `koanf:"max_object_bytes" validate:"min=0"`

	AccessKeyID     string `koanf:"access_key_id" validate:"required"`
	SecretAccessKey string `koanf:"secret_access_key" validate:"required"`
}

// DefaultAppConfig is the baseline configuration before environment
// overrides.
var DefaultAppConfig = Config{
	BucketName:      "causeway",
	DataDir:         "./data",
	Region:          "us-east-1",
	MaxObjectBytes:  0,
	AccessKeyID:     "causeway",
	SecretAccessKey: "causeway-secret",
}

// Loaders are package vars so tests can substitute failing providers.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: envPrefix,
			TransformFunc: func(key string, value string) (string, any) {
				key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
				return key, value
			},
		}), nil)
	}
)

// Load builds the configuration from defaults and environment variables
// and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks logical constraints on the configuration.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
