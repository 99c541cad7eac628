package billing

import (
	"errors"

	"google.golang.org/grpc/codes"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("failed precondition")
	// ErrConfiguration means shared settings are missing. Callers must not retry.
	ErrConfiguration = errors.New("company settings not configured")
	// ErrTransientConflict is returned by a Store when the documents read in a
	// transaction changed before commit. The Service retries it locally.
	ErrTransientConflict = errors.New("transaction conflict")
	ErrInternal          = errors.New("internal error")
)

// Callable error codes returned to API clients.
const (
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidArgument    = "invalid-argument"
	CodeNotFound           = "not-found"
	CodeFailedPrecondition = "failed-precondition"
	CodeInternal           = "internal"
)

// Code maps err onto the callable error taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConfiguration):
		return CodeNotFound
	case errors.Is(err, ErrPreconditionFailed):
		return CodeFailedPrecondition
	default:
		return CodeInternal
	}
}

// GRPCCode maps err onto the canonical gRPC status codes.
func GRPCCode(err error) codes.Code {
	switch Code(err) {
	case "":
		return codes.OK
	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeFailedPrecondition:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
