package interpolate

import "errors"

var (
	// ErrSyntax is returned for malformed interpolation expressions.
	ErrSyntax = errors.New("invalid interpolation")
	// ErrMissingKey is returned when an interpolation references a key that does not exist.
	ErrMissingKey = errors.New("interpolation key not found")
	// ErrCycle is returned when interpolations reference each other in a loop.
	ErrCycle = errors.New("interpolation cycle")
	// ErrUnknownResolver is returned for "${name:...}" expressions with an unregistered resolver.
	ErrUnknownResolver = errors.New("unknown resolver")
	// ErrEnvNotSet is returned when an environment variable is missing and no default is given.
	ErrEnvNotSet = errors.New("environment variable not set")
	// ErrNotScalar is returned when a container is interpolated into a larger string.
	ErrNotScalar = errors.New("cannot interpolate a container into a string")
)
