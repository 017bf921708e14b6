package credential

import (
	"errors"

	"github.com/yanizio/gatekey/internal/personnel"
)

// Errors returned by Service.  Site-level failures arrive wrapped in one of
// these or as site.ErrAllSitesUnavailable.
var (
	ErrNotFound          = errors.New("credential: no personnel record matches")
	ErrUpdateFailed      = errors.New("credential: key update failed")
	ErrQueryFailure      = errors.New("credential: lookup failed on every site")
	ErrInvalidIdentifier = errors.New("credential: empty identifier")
	ErrClosed            = errors.New("credential: service closed")

	ErrUnknownKind = personnel.ErrUnknownKind
)
