package motion

import "errors"

var (
	// ErrUnknownPriority is returned by ParsePriority.
	ErrUnknownPriority = errors.New("motion: unknown priority")

	// ErrNoDefinition is returned for a slot the settings do not define.
	ErrNoDefinition = errors.New("motion: no such definition")

	// ErrEmptyMotion is returned when a loader reports success without a motion.
	ErrEmptyMotion = errors.New("motion: loader returned no motion")
)
