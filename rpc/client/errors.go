package client

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/skv/rpc/wire"
)

// ResultError is a command failure reported by the server
type ResultError struct {
	Code wire.ResultCode
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("server returned: %s", e.Code)
}

// Is makes errors.Is match two ResultErrors with the same code
func (e *ResultError) Is(target error) bool {
	var other *ResultError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

var (
	// ErrKeyNotFound is returned when the addressed record does not exist
	ErrKeyNotFound = &ResultError{Code: wire.ResultKeyNotFound}

	// ErrKeyExists is returned by create-only writes on existing records
	ErrKeyExists = &ResultError{Code: wire.ResultKeyExists}

	// ErrGeneration is returned when a generation check failed
	ErrGeneration = &ResultError{Code: wire.ResultGenerationError}

	// ErrClientClosed is returned for operations on a closed client
	ErrClientClosed = errors.New("client is closed")
)

// newResultError maps a result code to an error, reusing the sentinel
// values for the common codes so callers can compare with errors.Is.
func newResultError(code wire.ResultCode) error {
	switch code {
	case wire.ResultKeyNotFound:
		return ErrKeyNotFound
	case wire.ResultKeyExists:
		return ErrKeyExists
	case wire.ResultGenerationError:
		return ErrGeneration
	default:
		return &ResultError{Code: code}
	}
}
