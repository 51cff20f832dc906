// Package errs defines the error kinds shared by the writer, reader and
// codec packages. Callers compare with errors.Is; the wrapped detail is
// added with fmt.Errorf("...: %w", errs.MalformedData).
package errs

import "errors"

var (
	// MalformedData marks a bad magic, a truncated header, a varint that
	// never terminates, or a PForDelta tag mismatch.
	MalformedData = errors.New("scdb: malformed data")

	// IntegrityError marks a checksum mismatch on load.
	IntegrityError = errors.New("scdb: integrity check failed")

	// UnsupportedFormat marks a recognized magic with an unhandled
	// version or option combination.
	UnsupportedFormat = errors.New("scdb: unsupported format")

	// InvalidOperation marks a map-only call against a set artifact, or
	// vice versa.
	InvalidOperation = errors.New("scdb: invalid operation for build type")

	// IoError marks an underlying filesystem or mapping failure.
	IoError = errors.New("scdb: io error")

	// DuplicateKey is a warning-level condition raised during build; it
	// is never returned to a caller, only logged.
	DuplicateKey = errors.New("scdb: duplicate key")
)
