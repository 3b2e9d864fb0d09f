package conncall

import (
	"net/http"

	"github.com/meigma/conncall/internal/dispatch"
)

type dispatcher interface {
	Dispatch(key string, kind dispatch.Kind, fn func()) error
	Close() error
}

// StatusPolicy decides whether a driver response completes the connection.
// Rejected responses fail it with a *ConnectionError carrying the status.
type StatusPolicy func(statusCode int) bool

// DefaultStatusPolicy accepts 2xx and 304 Not Modified.
func DefaultStatusPolicy(statusCode int) bool {
	return (statusCode >= 200 && statusCode < 300) || statusCode == http.StatusNotModified
}
