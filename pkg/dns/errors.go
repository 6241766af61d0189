package dns

import "errors"

var (
	// ErrUnsupportedRequest is returned for requests that are not standard
	// queries (opcode other than QUERY, or the QR bit set)
	ErrUnsupportedRequest = errors.New("unsupported request")

	// ErrMalformedRequest is returned for queries without exactly one question
	ErrMalformedRequest = errors.New("malformed request")

	// ErrNoAuthority is returned when no zone covers the query name
	ErrNoAuthority = errors.New("no authority for name")
)
