package registry

import "errors"

var (
	// ErrInvalidEntityID marks entity ids rejected by ValidateEntityID.
	ErrInvalidEntityID = errors.New("invalid entity id")

	// ErrRunActive is returned by CreateRun when the entity already has a
	// pending or running run and the caller did not supersede it.
	ErrRunActive = errors.New("entity already has an active run")

	// ErrRunNotActive is returned by compare-and-set transitions when the
	// targeted run is missing or already terminal.
	ErrRunNotActive = errors.New("run is not active")

	// ErrSchemaMismatch indicates the database schema version doesn't match
	// the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
