package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOracleContract marks classifier output that could not be parsed by any tier.
	ErrOracleContract = errors.New("could not organize content")
	// ErrNoSubstitute means the oracle had no replacement image to offer.
	ErrNoSubstitute = errors.New("no substitute found")
	// ErrNothingToUndo means the slot has no recorded original to restore.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrInvariantViolation marks a curated state with duplicate items or images.
	// Rendering is refused while this holds.
	ErrInvariantViolation = errors.New("scrapbook invariant violation")
)
