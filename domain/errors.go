package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist or a conditional
	// update matched nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness or state precondition.
	ErrConflict = errors.New("conflict")
	// ErrSingletonRoleTaken is returned when a singleton role already has a holder.
	ErrSingletonRoleTaken = errors.New("singleton role already assigned")
	// ErrInvalidCredentials is returned by UserStore for any failed authentication.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSession is returned by SessionVerifier for a rejected bearer.
	ErrInvalidSession = errors.New("invalid session")
)
