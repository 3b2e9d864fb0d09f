// Package progress provides utilities for tracking transfer progress.
package progress

import (
	"io"
	"sync/atomic"
)

// Callback receives the size of each read and the cumulative count.
type Callback func(n, transferred int64)

// Reader wraps an io.Reader to count bytes read and report each read.
type Reader struct {
	reader   io.Reader
	callback Callback
	read     atomic.Int64
}

// NewReader creates a progress-tracking reader.
// The callback is called after every Read that returned data.
func NewReader(r io.Reader, callback Callback) *Reader {
	return &Reader{
		reader:   r,
		callback: callback,
	}
}

// Read implements io.Reader and reports progress after each read.
func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	if n > 0 {
		total := r.read.Add(int64(n))
		if r.callback != nil {
			r.callback(int64(n), total)
		}
	}
	return n, err
}

// Transferred returns the number of bytes read so far.
func (r *Reader) Transferred() int64 {
	return r.read.Load()
}

// Close closes the underlying reader if it implements io.Closer.
func (r *Reader) Close() error {
	if closer, ok := r.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
