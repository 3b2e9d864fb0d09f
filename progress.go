package conncall

import (
	"io"

	"github.com/meigma/conncall/core"
	"github.com/meigma/conncall/internal/progress"
)

// Progress is a snapshot of a connection's transfer counters.
// Re-exported from core package.
type Progress = core.Progress

// TrackSend wraps r so every read is reported as bytes sent.
func TrackSend(r io.Reader, rep Reporter) io.ReadCloser {
	return progress.NewReader(r, func(n, _ int64) {
		rep.AddSent(n)
	})
}

// TrackReceive wraps r so every read is reported as bytes received.
func TrackReceive(r io.Reader, rep Reporter) io.ReadCloser {
	return progress.NewReader(r, func(n, _ int64) {
		rep.AddReceived(n)
	})
}
