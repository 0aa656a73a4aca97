package boxoffice

import "errors"

var (
	// ErrNotFound is returned by ObjectStore.Get when the key does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrPreconditionFailed reports a conditional write that lost to a concurrent writer.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrMalformedRecord marks stored or wire data that fails schema validation.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrParse marks an upstream page or row that could not be parsed.
	ErrParse = errors.New("parse failure")
	// ErrEmptySeries is a contract violation: a newest offset was requested of an empty series.
	ErrEmptySeries = errors.New("revenue series is empty")
)
