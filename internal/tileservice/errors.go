package tileservice

import (
	"errors"

	"tilestream/internal/pyramid"
	"tilestream/internal/tilestore"
)

// notFoundError signals an unknown image or a tile outside its pyramid (404).
type notFoundError struct{ what string }

func (e notFoundError) Error() string { return "not found: " + e.what }

// ErrNotFound returns an error for a missing image or tile.
func ErrNotFound(what string) error { return notFoundError{what: what} }

// IsNotFound reports whether err indicates a missing image or tile.
func IsNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf) || errors.Is(err, tilestore.ErrNotFound)
}

// conflictError signals an ingestion for an image id that is already committed (409).
type conflictError struct{ id string }

func (e conflictError) Error() string { return "image already exists: " + e.id }

// IsConflict reports whether err indicates a duplicate image id.
func IsConflict(err error) bool {
	var c conflictError
	return errors.As(err, &c) || errors.Is(err, tilestore.ErrExists)
}

// badRequestError signals an ingestion request that cannot be acted on (400).
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

// IsBadRequest reports whether err indicates a malformed request.
func IsBadRequest(err error) bool {
	var b badRequestError
	return errors.As(err, &b)
}

// IsInvalidImage reports whether err indicates an undecodable or empty source (422).
func IsInvalidImage(err error) bool { return pyramid.IsInvalidImage(err) }
