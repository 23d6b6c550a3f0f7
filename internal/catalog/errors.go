package catalog

import "errors"

var (
	// ErrFamilyNotFound is returned when no experiment family has the requested name.
	ErrFamilyNotFound = errors.New("experiment family not found")
	// ErrOptionNotFound is returned when a config group has no option with the requested name.
	ErrOptionNotFound = errors.New("config group option not found")
	// ErrInvalidFamily is returned when a family is missing its primary document or is malformed.
	ErrInvalidFamily = errors.New("invalid experiment family")
	// ErrNoRoot is returned by Reload when the catalog was not loaded from a directory.
	ErrNoRoot = errors.New("catalog has no root directory")
)
