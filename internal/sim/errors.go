package sim

import "errors"

// Validation errors returned by administrative operations. The state is
// left unchanged whenever one of these is returned.
var (
	ErrUnknownUnit       = errors.New("unknown unit")
	ErrUnknownGroup      = errors.New("unknown group")
	ErrUnknownType       = errors.New("unknown unit type")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrDuplicateName     = errors.New("name already in use")
	ErrInvalidAssignment = errors.New("invalid assignment")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrNoGateway         = errors.New("no gateway position set")
)
