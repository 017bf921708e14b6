// internal/config/model.go
//
// Typed configuration model for gatekey.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from four overlay layers:
//
//   • built-in defaults                          – see defaults.go,
//   • optional `.env`                            – dotenv values,
//   • `conf/gatekey.yaml`                        – primary static file,
//   • `GATEKEY_`-prefixed environment overrides  – highest precedence.
//
// Any site password of the form `vault:<mount>/<path>#<key>` is resolved
// through Vault after unmarshalling, so the model handed to the rest of the
// program only ever holds plain strings.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • `Sites` is an ordered list.  Order is significant: first-success
//     queries walk the sites in exactly this order.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`

	// IssueRateLimit caps issue requests per client IP per minute.  Zero
	// disables the limiter.
	IssueRateLimit int `koanf:"issue_rate_limit" validate:"gte=0"`

	// RequestTimeout bounds one API request; zero means no deadline.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gte=0"`
}

//
// Log section
//

// Log controls the zap logger.
type Log struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	Dir   string `koanf:"dir"` // relative to Paths.Root unless absolute
}

//
// Site section
//

// Site describes one building database.  ID is optional; when empty it is
// derived from Database by the site registry.
type Site struct {
	ID        string `koanf:"id"         validate:"omitempty,max=64"`
	Name      string `koanf:"name"`
	Driver    string `koanf:"driver"     validate:"required,oneof=firebirdsql mysql pgx sqlite"`
	Host      string `koanf:"host"       validate:"required_unless=Driver sqlite"`
	Port      int    `koanf:"port"       validate:"gte=0,lte=65535"`
	Database  string `koanf:"database"   validate:"required"`
	User      string `koanf:"user"`
	Password  string `koanf:"password"`
	KeyCasing string `koanf:"key_casing" validate:"oneof=preserve lower upper"`
}

//
// Connect section
//

// Connect governs connection establishment and pool sizing.  Timeout
// bounds each individual attempt; attempts = 1 + MaxRetries; the pause
// before retry n is n × RetryBackoff.
type Connect struct {
	Timeout         time.Duration `koanf:"timeout"           validate:"gt=0"`
	MaxRetries      int           `koanf:"max_retries"       validate:"gte=0,lte=20"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"     validate:"gte=0"`
	HealthInterval  time.Duration `koanf:"health_interval"   validate:"gte=0"`
	FanoutLimit     int           `koanf:"fanout_limit"      validate:"gte=0"`
	MaxOpenConns    int           `koanf:"max_open_conns"    validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gte=0"`
}

//
// Credential section
//

// Credential configures key issuance.  Table and column names are SQL
// identifiers spliced into statements, hence the `sqlident` rule.
//
// Identifiers maps an identifier kind (used in routes and logs) to the
// column it is matched against, e.g. uuid → GPWP, tabelnomer → TABELNOMER.
type Credential struct {
	TTL              time.Duration     `koanf:"ttl"                validate:"gt=0"`
	CodeDigits       int               `koanf:"code_digits"        validate:"lte=9"`
	RevokeOnShutdown bool              `koanf:"revoke_on_shutdown"`
	Table            string            `koanf:"table"              validate:"required,sqlident"`
	PersonIDColumn   string            `koanf:"person_id_column"   validate:"required,sqlident"`
	KeyColumn        string            `koanf:"key_column"         validate:"required,sqlident"`
	Identifiers      map[string]string `koanf:"identifiers"        validate:"required,min=1,dive,keys,alphanum,endkeys,sqlident"`
}

//
// Vault section
//

// Vault toggles secret resolution.  Address and token come from the usual
// VAULT_ADDR and VAULT_TOKEN variables.
type Vault struct {
	Enabled  bool          `koanf:"enabled"`
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"gte=0"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // GATEKEY_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP       HTTP       `koanf:"http"`
	Log        Log        `koanf:"log"`
	Sites      []Site     `koanf:"sites"      validate:"required,min=1,dive"`
	Connect    Connect    `koanf:"connect"`
	Credential Credential `koanf:"credential"`
	Vault      Vault      `koanf:"vault"`
	Paths      Paths      `koanf:"-"` // not loaded from config files
}
