// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from four layers (highest
precedence last):

  1. Built-in defaults (defaults.go).
  2. Optional `.env` file at `<root>/conf/.env`.
  3. `conf/gatekey.yaml`.
  4. Environment variables prefixed `GATEKEY_`, where `__` maps to “.”
     (e.g., `GATEKEY_CREDENTIAL__TTL → credential.ttl`).

After merging, the tree is unmarshalled into strongly-typed structs,
per-site defaults are filled, `vault:` secrets are resolved, the result
is validated, enriched with the runtime root path, and cached in an
`atomic.Pointer` for lock-free reads.

Instrumentation
---------------
  • DEBUG spans: root discovery, YAML read.
  • ERROR spans: YAML parse, env overlay, unmarshal, secret, validation.
  • INFO  span:  final “config loaded” with key highlights.
  • Logs use the global sugared logger (`zap.S()`) so early boot issues
    surface before the file logger is installed.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/yanizio/gatekey/internal/vault"
)

const (
	envPrefix = "GATEKEY_"
	fileName  = "gatekey.yaml"
)

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves GATEKEY_ROOT or climbs directories until
// conf/gatekey.yaml is found.  Falls back to the executable layout
// (<root>/bin/gatekey) and finally the working directory.
func rootDir() string {
	if r := os.Getenv("GATEKEY_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", fileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────── defaults provider ─────────────────────────────*/

// mapProvider feeds a flat dotted map into koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return maps.Unflatten(cp, "."), nil
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads defaults, .env, YAML, and env overrides, resolves secrets,
// validates, and caches Config.
func Load() (*Config, error) {
	return LoadContext(context.Background())
}

// LoadContext is Load with a context bounding Vault look-ups.
func LoadContext(ctx context.Context) (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults), nil); err != nil {
		return nil, err
	}

	yamlPath := filepath.Join(root, "conf", fileName)
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// Env overrides: GATEKEY_CREDENTIAL__TTL → credential.ttl
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, envPrefix), "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}
	applySiteDefaults(&cfg)

	if cfg.Vault.Enabled {
		cli, err := vault.New(ctx, cfg.Vault.CacheTTL, zap.S())
		if err != nil {
			zap.S().Errorw("vault client init failed", "err", err)
			return nil, err
		}
		if err := resolveSecrets(ctx, &cfg, cli); err != nil {
			zap.S().Errorw("config secret resolution failed", "err", err)
			return nil, err
		}
	}

	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"sites", len(cfg.Sites),
		"ttl", cfg.Credential.TTL,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

/*──────────────────────────── secrets ─────────────────────────────────────*/

// SecretResolver turns a `vault:` reference into its plain value.
// *vault.Client satisfies it.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// resolveSecrets replaces every `vault:` site password in place.
func resolveSecrets(ctx context.Context, c *Config, r SecretResolver) error {
	for i := range c.Sites {
		s := &c.Sites[i]
		if !vault.IsRef(s.Password) {
			continue
		}
		pw, err := r.Resolve(ctx, s.Password)
		if err != nil {
			return fmt.Errorf("site %d (%s) password: %w", i, s.Database, err)
		}
		s.Password = pw
	}
	return nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config { return current.Load() }

// LogDir returns the absolute log directory.
func (c *Config) LogDir() string {
	if filepath.IsAbs(c.Log.Dir) {
		return c.Log.Dir
	}
	return filepath.Join(c.Paths.Root, c.Log.Dir)
}
