package relay

import (
	"errors"
	"fmt"

	"github.com/streamhub/streamhub/pkg/types"
	"github.com/streamhub/streamhub/server/internal/store"
)

// ErrUnauthenticated is returned for operations sent before authenticate.
var ErrUnauthenticated = errors.New("unauthenticated")

// invalidf builds an InvalidOperation error.
func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, store.ErrInvalidOperation)...)
}

// kindOf maps a handler error onto the wire taxonomy. Anything unclassified
// is reported as InvalidOperation.
func kindOf(err error) types.ErrorKind {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return types.KindUnauthenticated
	case errors.Is(err, store.ErrNotFound):
		return types.KindNotFound
	case errors.Is(err, store.ErrConflict):
		return types.KindConflict
	default:
		return types.KindInvalidOperation
	}
}
