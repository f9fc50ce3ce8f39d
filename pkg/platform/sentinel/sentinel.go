package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and the lock layer return
// these (optionally wrapped) so services can translate them into domain errors
// carrying the exact user-visible reason.
//
// These represent factual states about persisted records, not validation
// failures:
// - ErrNotFound: record does not exist (or is soft-deleted) in the store
// - ErrConflict: a uniqueness or state constraint rejected the write
// - ErrLocked: the record is held by another in-flight mutation
// - ErrExpired: token has expired
// - ErrAlreadyUsed: single-use token already consumed
// - ErrInvalidState: record in wrong state for the requested operation
// - ErrUnavailable: backing service temporarily unavailable
//
// For business-rule failures, use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrLocked       = errors.New("locked")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
