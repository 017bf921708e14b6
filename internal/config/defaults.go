package config

import "time"

// defaults seed the koanf tree before any file or env layer is merged.
// Keys use the same dotted paths as the YAML file.
var defaults = map[string]any{
	"http.listen_addr":      ":8080",
	"http.issue_rate_limit": 60,
	"http.request_timeout":  20 * time.Second,

	"log.level": "info",
	"log.dir":   "logs",

	"connect.timeout":           10 * time.Second,
	"connect.max_retries":       2,
	"connect.retry_backoff":     time.Second,
	"connect.health_interval":   30 * time.Second,
	"connect.fanout_limit":      0,
	"connect.max_open_conns":    4,
	"connect.max_idle_conns":    2,
	"connect.conn_max_lifetime": 30 * time.Minute,

	"credential.ttl":              5 * time.Minute,
	"credential.code_digits":      3,
	"credential.table":            "PERSONNEL",
	"credential.person_id_column": "PERS_ID",
	"credential.key_column":       "KLUCH2",

	"vault.cache_ttl": 10 * time.Minute,
}

// defaultKeyCasing applies when a site omits key_casing.
const defaultKeyCasing = "preserve"

// applySiteDefaults fills per-site fields koanf cannot default (list
// elements have no stable dotted path).
func applySiteDefaults(c *Config) {
	for i := range c.Sites {
		s := &c.Sites[i]
		if s.KeyCasing == "" {
			s.KeyCasing = defaultKeyCasing
		}
		if s.Port == 0 {
			s.Port = defaultPort(s.Driver)
		}
	}
	if len(c.Credential.Identifiers) == 0 {
		c.Credential.Identifiers = map[string]string{
			"uuid":       "GPWP",
			"tabelnomer": "TABELNOMER",
		}
	}
}

func defaultPort(driver string) int {
	switch driver {
	case "firebirdsql":
		return 3050
	case "mysql":
		return 3306
	case "pgx":
		return 5432
	default:
		return 0
	}
}
