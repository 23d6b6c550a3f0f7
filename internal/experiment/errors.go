package experiment

import "errors"

var (
	// ErrUnknownFamily is returned when no typed view exists for a family.
	ErrUnknownFamily = errors.New("no typed view for family")
	// ErrDecode is returned when a resolved document does not fit the typed view.
	ErrDecode = errors.New("decode experiment")
	// ErrInconsistent is returned by Check when derived budgets contradict each other.
	ErrInconsistent = errors.New("inconsistent experiment")
)
