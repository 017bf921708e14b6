// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `Load` calls `validateStruct` immediately after secrets are resolved.
// Any tag mismatch or validation error aborts startup, so the binary never
// runs with partial, malformed, or missing configuration.
//
// One custom rule is registered:
//
//   • `sqlident` – a bare SQL identifier (letters, digits, `_`, `$`, not
//     starting with a digit).  Table and column names are spliced into
//     statements, so nothing else may pass.

package config

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var (
	v        = validator.New()
	sqlIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,62}$`)
)

func init() {
	_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return sqlIdent.MatchString(fl.Field().String())
	})
}

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}

// IsSQLIdent reports whether s is safe to splice as a table or column name.
func IsSQLIdent(s string) bool { return sqlIdent.MatchString(s) }
