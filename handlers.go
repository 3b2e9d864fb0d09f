package conncall

// ProgressHandler is called zero or more times while a connection is in
// flight. It receives the connection itself so it can read the live transfer
// counters. Implementations should be quick: a slow handler delays every
// later notification on the same delivery lane, and progress notifications
// that pile up behind it are merged into one.
type ProgressHandler func(conn *Connection)

// CompletionHandler is called exactly once when a connection finishes
// successfully. No notification for the same connection follows it.
// The connection's Done channel is closed only after the handler returns,
// so the handler must not call Wait or receive from Done on that connection.
type CompletionHandler func(resp *Response)

// FailureHandler is called exactly once when a connection ends without a
// usable response. The error is a *ConnectionError. No notification for the
// same connection follows it. As with CompletionHandler, the handler must not
// call Wait or receive from Done on its own connection.
type FailureHandler func(err error)

// Handlers groups the callbacks supplied when starting a connection.
// Any of them may be nil.
type Handlers struct {
	Progress   ProgressHandler
	Completion CompletionHandler
	Failure    FailureHandler
}
