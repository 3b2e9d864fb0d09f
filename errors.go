package conncall

import "github.com/meigma/conncall/core"

// Sentinel errors for common failure conditions.
// Re-exported from core package.
var (
	// ErrCancelled indicates the connection was cancelled before it concluded.
	ErrCancelled = core.ErrCancelled

	// ErrTimeout indicates the connection did not conclude within its timeout.
	ErrTimeout = core.ErrTimeout

	// ErrTransport indicates the driver failed to carry the exchange.
	ErrTransport = core.ErrTransport

	// ErrInvalidResponse indicates the server answered with a rejected status.
	ErrInvalidResponse = core.ErrInvalidResponse

	// ErrUnauthorized indicates the server rejected the credentials.
	ErrUnauthorized = core.ErrUnauthorized

	// ErrForbidden indicates the server refused the request.
	ErrForbidden = core.ErrForbidden

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = core.ErrNotFound

	// ErrInvalidRequest indicates the request is missing required fields.
	ErrInvalidRequest = core.ErrInvalidRequest

	// ErrClosed indicates an operation was attempted on a closed client.
	ErrClosed = core.ErrClosed
)

// ConnectionError describes why a connection failed.
// Re-exported from core package.
type ConnectionError = core.ConnectionError
