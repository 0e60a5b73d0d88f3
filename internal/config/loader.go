package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables understood by the loader.
const (
	EnvPrefix     = "POSEBRIDGE_"
	EnvConfigFile = EnvPrefix + "CONFIG"
	EnvDotEnvFile = EnvPrefix + "ENV_FILE"

	defaultDotEnv = ".env"
)

// Load builds a Config by layering defaults, an optional .env file, an
// optional YAML file and env vars. Order of precedence (low -> high):
//  1. defaults (New())
//  2. .env file from POSEBRIDGE_ENV_FILE or ./.env (never overrides the real environment)
//  3. file (YAML) if POSEBRIDGE_CONFIG is set
//  4. env (prefix POSEBRIDGE_)
func Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	base := New()
	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// POSEBRIDGE_SERVER_URL -> server_url, POSEBRIDGE_COOLDOWN_SITTING -> cooldowns.sitting.
	envProvider := env.ProviderWithValue(EnvPrefix, ".", envValue)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// listKeys are comma separated in the environment.
var listKeys = map[string]bool{"rtsp_uris": true} //nolint:gochecknoglobals // lookup table

func envValue(name, value string) (string, any) {
	key := envKey(name)
	if listKeys[key] {
		return key, SplitList(value)
	}
	return key, value
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if strings.HasPrefix(s, "cooldown_") && s != "cooldown_clock" {
		return "cooldowns." + strings.TrimPrefix(s, "cooldown_")
	}
	return s
}

func loadDotEnv() error {
	if path := os.Getenv(EnvDotEnvFile); path != "" {
		return godotenv.Load(path)
	}
	err := godotenv.Load(defaultDotEnv)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// SplitList splits a comma separated list, trimming blanks and dropping empty entries.
func SplitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
