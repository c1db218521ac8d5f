package definitions

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/xerrors"
)

// Error kinds. Every error returned by the Service either wraps one of these
// or is an internal failure.
var (
	ErrNotFound             = xerrors.New("not found")
	ErrConflict             = xerrors.New("already exists")
	ErrInvalidArgument      = xerrors.New("invalid argument")
	ErrMissingDataIDMapping = xerrors.New("missing data id mapping")
)

// Specific failures. They are always returned wrapped together with the
// matching kind above, so errors.Is works for both.
var (
	ErrUnsupportedDampeningType = xerrors.New("unsupported dampening type")
	ErrInvalidMemberName        = xerrors.New("member name is required")
	ErrGroupNotFound            = xerrors.New("group trigger")
)

// Kind classifies errors for transport status codes and metric labels.
type Kind string

const (
	KindNone                 Kind = "ok"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindInvalidArgument      Kind = "invalid_argument"
	KindMissingDataIDMapping Kind = "missing_data_id_mapping"
	KindInternal             Kind = "internal"
)

// KindOf reports the kind of err. Errors that match no known kind are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrGroupNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrMissingDataIDMapping):
		return KindMissingDataIDMapping
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrUnsupportedDampeningType),
		errors.Is(err, ErrInvalidMemberName):
		return KindInvalidArgument
	default:
		return KindInternal
	}
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

func groupNotFound(groupID string) error {
	return fmt.Errorf("%w %q: %w", ErrGroupNotFound, groupID, ErrNotFound)
}

func missingMapping(memberID, dataID string) error {
	return fmt.Errorf("member %q has no mapping for data id %q: %w", memberID, dataID, ErrMissingDataIDMapping)
}
