// internal/personnel/store.go
//
// Parameterised statements against the personnel table.
//
// Context
// -------
// Every site keeps the same personnel table.  gatekey touches four of its
// columns, all named by configuration:
//
//	<table>  (<person id>, <identifier column>…, <key column>)
//
// Three statements cover the whole lifecycle of a key:
//  1. Find the row whose identifier column matches.   → `Find()`
//  2. Overwrite its key column.                       → `SetKey()`
//  3. Blank the key only if it still holds a value.   → `ClearKeyIf()`
//
// Values always travel as bind parameters.  Table and column names cannot,
// so NewStore refuses anything that is not a bare SQL identifier before a
// single statement is built.
//
// Notes
// -----
//   - Firebird has no LIMIT clause; Find reads the first row and stops.
//   - Placeholders are written as `?` and rebound per driver (pgx wants
//     `$1`).
//   - Result column names are folded with the site's casing policy before
//     lookup.
package personnel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yanizio/gatekey/internal/config"
	"github.com/yanizio/gatekey/internal/site"
)

var (
	// ErrUnknownKind is returned for an identifier kind with no column.
	ErrUnknownKind = errors.New("personnel: unknown identifier kind")

	// ErrBadIdent is returned by NewStore for an unsafe table or column.
	ErrBadIdent = errors.New("personnel: invalid sql identifier")
)

// Schema names the table and columns.  Identifiers maps an identifier
// kind to the column matched for it.
type Schema struct {
	Table          string
	PersonIDColumn string
	KeyColumn      string
	Identifiers    map[string]string
}

// SchemaFrom copies the credential section of the configuration.
func SchemaFrom(c config.Credential) Schema {
	ids := make(map[string]string, len(c.Identifiers))
	for k, v := range c.Identifiers {
		ids[k] = v
	}
	return Schema{
		Table:          c.Table,
		PersonIDColumn: c.PersonIDColumn,
		KeyColumn:      c.KeyColumn,
		Identifiers:    ids,
	}
}

// Record is one personnel row as far as gatekey cares.
type Record struct {
	PersonID   string
	Identifier string
	CurrentKey string
}

// Store builds and runs the statements for one Schema.  It holds no
// connection; every call takes the site it runs against.
type Store struct {
	schema Schema
}

// NewStore validates every identifier in s.
func NewStore(s Schema) (*Store, error) {
	names := []string{s.Table, s.PersonIDColumn, s.KeyColumn}
	for _, col := range s.Identifiers {
		names = append(names, col)
	}
	for _, n := range names {
		if !config.IsSQLIdent(n) {
			return nil, fmt.Errorf("%w: %q", ErrBadIdent, n)
		}
	}
	if len(s.Identifiers) == 0 {
		return nil, fmt.Errorf("%w: no identifier kinds configured", ErrUnknownKind)
	}
	return &Store{schema: s}, nil
}

// Kinds lists the configured identifier kinds, sorted.
func (s *Store) Kinds() []string {
	out := make([]string, 0, len(s.schema.Identifiers))
	for k := range s.schema.Identifiers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Column returns the column matched for kind.
func (s *Store) Column(kind string) (string, error) {
	col, ok := s.schema.Identifiers[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return col, nil
}

// Find looks up the row whose kind column equals value.  found is false
// when the site has no such row.
func (s *Store) Find(ctx context.Context, c site.Conn, kind, value string) (rec Record, found bool, err error) {
	col, err := s.Column(kind)
	if err != nil {
		return Record{}, false, err
	}
	q := c.DB.Rebind(`SELECT ` + s.schema.PersonIDColumn + `, ` + col + `, ` + s.schema.KeyColumn + `
	                    FROM ` + s.schema.Table + `
	                   WHERE ` + col + ` = ?`)

	rows, err := c.DB.QueryxContext(ctx, q, value)
	if err != nil {
		return Record{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return Record{}, false, rows.Err()
	}
	row := make(map[string]any, 3)
	if err := rows.MapScan(row); err != nil {
		return Record{}, false, err
	}
	row = fold(row, c.Site.Casing)

	get := func(name string) string { return text(row[c.Site.Casing.Apply(name)]) }
	return Record{
		PersonID:   get(s.schema.PersonIDColumn),
		Identifier: get(col),
		CurrentKey: get(s.schema.KeyColumn),
	}, true, nil
}

// SetKey writes key to the row matching value and returns the number of
// rows touched.  An empty key blanks the column.
func (s *Store) SetKey(ctx context.Context, c site.Conn, kind, value, key string) (int64, error) {
	col, err := s.Column(kind)
	if err != nil {
		return 0, err
	}
	q := c.DB.Rebind(`UPDATE ` + s.schema.Table + `
	                     SET ` + s.schema.KeyColumn + ` = ?
	                   WHERE ` + col + ` = ?`)
	return affected(c.DB.ExecContext(ctx, q, key, value))
}

// ClearKeyIf blanks the key of the row matching value only while it still
// equals key.  A row whose key has since changed is left alone and the
// call reports zero rows.
func (s *Store) ClearKeyIf(ctx context.Context, c site.Conn, kind, value, key string) (int64, error) {
	col, err := s.Column(kind)
	if err != nil {
		return 0, err
	}
	q := c.DB.Rebind(`UPDATE ` + s.schema.Table + `
	                     SET ` + s.schema.KeyColumn + ` = ''
	                   WHERE ` + col + ` = ? AND ` + s.schema.KeyColumn + ` = ?`)
	return affected(c.DB.ExecContext(ctx, q, value, key))
}

func affected(r sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}

// fold re-keys row under the casing policy.
func fold(row map[string]any, c site.Casing) map[string]any {
	if c == site.CasingPreserve {
		return row
	}
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[c.Apply(k)] = v
	}
	return out
}

// text renders a scanned column value.  CHAR columns come back padded.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return strings.TrimSpace(string(t))
	case string:
		return strings.TrimSpace(t)
	default:
		return fmt.Sprint(t)
	}
}
