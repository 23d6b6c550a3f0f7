package compose

import "errors"

var (
	// ErrInvalidOverride is returned for command-line overrides that cannot be parsed or applied.
	ErrInvalidOverride = errors.New("invalid override")
	// ErrKeyNotInConfig is returned when "key=value" or "~key" names a key that does not exist.
	ErrKeyNotInConfig = errors.New("key not in config")
	// ErrKeyExists is returned when "+key=value" names a key that already exists.
	ErrKeyExists = errors.New("key already exists")
	// ErrInvalidDefaults is returned for malformed defaults lists.
	ErrInvalidDefaults = errors.New("invalid defaults list")
	// ErrNestedDefaults is returned when a group option declares its own defaults list.
	ErrNestedDefaults = errors.New("defaults lists are only supported in the primary document")
)
