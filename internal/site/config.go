// internal/site/config.go
//
// Static site registry.
//
// Context
// -------
// Every building runs its own database.  The registry turns the ordered
// `sites` list from configuration into immutable `Config` values with a
// stable, unique ID.  Configuration order is preserved everywhere: the
// manager dials, reports, and walks sites in this order.
//
// ID derivation
// -------------
//   - An explicit `id` wins.
//   - Otherwise the database path is slugged: "C:/ACS/Base/ACS.fdb" →
//     "c-acs-base-acs-fdb".
//   - Sites whose path slugs collide (every building keeps the same file
//     path on its own server) are qualified with the host:
//     "10-37-0-21-c-acs-base-acs-fdb".
//   - A collision that survives qualification is a configuration error.
package site

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yanizio/gatekey/internal/config"
	"github.com/yanizio/gatekey/internal/database"
)

// Casing is the result-column key policy of a site.  Some engines fold
// unquoted identifiers to upper case, others to lower.
type Casing string

const (
	CasingPreserve Casing = "preserve"
	CasingLower    Casing = "lower"
	CasingUpper    Casing = "upper"
)

// Apply normalises a column name under the policy.
func (c Casing) Apply(name string) string {
	switch c {
	case CasingLower:
		return strings.ToLower(name)
	case CasingUpper:
		return strings.ToUpper(name)
	default:
		return name
	}
}

// Config is one immutable site descriptor.
type Config struct {
	ID     string
	Name   string // building label for humans; defaults to ID
	Params database.Params
	Casing Casing
}

// Label returns Name, falling back to ID.
func (c Config) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// ErrDuplicateSite is returned when two sites resolve to the same ID.
var ErrDuplicateSite = errors.New("site: duplicate site id")

// Registry is the ordered, immutable site set.
type Registry struct {
	sites []Config
	index map[string]int
}

// NewRegistry validates and indexes sites.  An empty list is allowed; the
// manager then reports every call as ErrAllSitesUnavailable.
func NewRegistry(sites []Config) (*Registry, error) {
	r := &Registry{
		sites: make([]Config, len(sites)),
		index: make(map[string]int, len(sites)),
	}
	copy(r.sites, sites)

	for i, s := range r.sites {
		if s.ID == "" {
			return nil, fmt.Errorf("site %d: empty id", i)
		}
		if _, dup := r.index[s.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSite, s.ID)
		}
		if r.sites[i].Casing == "" {
			r.sites[i].Casing = CasingPreserve
		}
		r.index[s.ID] = i
	}
	return r, nil
}

// FromConfig builds a registry from the `sites` configuration section,
// deriving IDs where none are given.
func FromConfig(in []config.Site) (*Registry, error) {
	slugCount := make(map[string]int, len(in))
	for _, s := range in {
		if s.ID == "" {
			slugCount[slug(s.Database)]++
		}
	}

	out := make([]Config, 0, len(in))
	for _, s := range in {
		id := s.ID
		if id == "" {
			id = slug(s.Database)
			if slugCount[id] > 1 {
				id = slug(s.Host) + "-" + id
			}
		}
		out = append(out, Config{
			ID:   id,
			Name: s.Name,
			Params: database.Params{
				Driver:   s.Driver,
				Host:     s.Host,
				Port:     s.Port,
				Database: s.Database,
				User:     s.User,
				Password: s.Password,
			},
			Casing: Casing(s.KeyCasing),
		})
	}
	return NewRegistry(out)
}

// All returns the sites in configuration order.  The slice is a copy.
func (r *Registry) All() []Config {
	out := make([]Config, len(r.sites))
	copy(out, r.sites)
	return out
}

// Len reports the number of configured sites.
func (r *Registry) Len() int { return len(r.sites) }

// slug lower-cases s and collapses every run of non-alphanumerics to "-".
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
