// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

// Error is our own defined error type so that callers can branch on the
// condition instead of matching message strings.
type Error int

const (
	// NoError means no error.
	NoError = Error(iota)

	//------ Catalog level errors ------//

	// ErrSchema is returned when the source table handed to ingest is missing
	// a required or band column, or contains a non-finite value. Ingest never
	// proceeds with a partially validated catalog.
	ErrSchema

	// ErrNoCatalog is returned for operations that require an ingested
	// catalog before one exists.
	ErrNoCatalog

	// ErrBadRecordKey is returned when a checkin payload refers to a
	// source_index that is not in the catalog. This is a contract violation
	// by the caller, not a runtime condition to recover from.
	ErrBadRecordKey

	//------ Scheduling errors ------//

	// ErrOverlapConflict is returned when a proposed region contains a record
	// that is already checked out. This is an expected race under concurrent
	// seeding; callers retry with a new seed.
	ErrOverlapConflict

	//------ Priors level errors ------//

	// ErrBoundsViolation is returned when a parameter value lies outside its
	// recorded bounds interval. Surfaced rather than silently clamped.
	ErrBoundsViolation

	// ErrCovShapeMismatch is returned when checkin supplies covariance blocks
	// whose shape does not match the per-record parameter count. The blocks
	// are skipped; the rest of checkin completes.
	ErrCovShapeMismatch

	//------ Durability errors ------//

	// ErrCorruptSnapshot is returned when a snapshot or checkpoint fails its
	// magic, version, or column-length validation.
	ErrCorruptSnapshot

	//------ Config/host errors ------//

	// ErrBadConfig is returned when a configuration fails validation.
	ErrBadConfig

	// ErrLowMemory is returned when ingest refuses to allocate the covariance
	// store because free memory is below the configured floor.
	ErrLowMemory
)

var description = map[Error]string{
	NoError: "no error",

	ErrSchema:       "source table is missing required columns or has non-finite values",
	ErrNoCatalog:    "no catalog has been ingested",
	ErrBadRecordKey: "checkin refers to a source_index not present in the catalog",

	ErrOverlapConflict: "proposed region overlaps a checked-out record, retry with a new seed",

	ErrBoundsViolation:  "parameter value outside its bounds interval",
	ErrCovShapeMismatch: "covariance block shape does not match the parameter count",

	ErrCorruptSnapshot: "snapshot failed magic/version/column validation",

	ErrBadConfig: "invalid configuration",
	ErrLowMemory: "not enough free memory to allocate the covariance store",
}

// String returns a human readable error message.
func (e Error) String() string {
	if s, ok := description[e]; ok {
		return s
	}
	return "NO DESCRIPTION FOR ERROR FIX THIS"
}

// Error returns a golang error object with an error message corresponding to
// this core.Error.
func (e Error) Error() error {
	if e == NoError {
		return nil
	}
	return goError(e)
}

// Is checks whether the generic Go error 'g' is actually the receiver error
// underneath.
func (e Error) Is(g error) bool {
	b, ok := g.(goError)
	return ok && (Error)(b) == e
}

// goError is a wrapper type to make our Error act like Go's 'error'
type goError Error

// Error implements the 'error' interface.
func (g goError) Error() string {
	return (Error)(g).String()
}

// FphoError gets the underlying core.Error from an error.
func FphoError(err error) (Error, bool) {
	e, ok := err.(goError)
	return Error(e), ok
}

// IsRetriableFphoError checks if this is 1) core.Error 2) retriable.
func IsRetriableFphoError(err error) bool {
	if goerr, ok := err.(goError); ok {
		return IsRetriableError(Error(goerr))
	}
	return false
}

// IsRetriableError checks if we should retry on a given returned error.
// Overlap conflicts are the only transient condition: the records blocking a
// region will be checked back in eventually, so a later attempt with another
// seed can succeed.
func IsRetriableError(err Error) bool {
	return err == ErrOverlapConflict
}
