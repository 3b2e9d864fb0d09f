package progress

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_TracksProgress(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	r := bytes.NewReader(data)

	type event struct {
		n           int64
		transferred int64
	}
	var events []event
	pr := NewReader(r, func(n, transferred int64) {
		events = append(events, event{n, transferred})
	})

	buf := make([]byte, 5)
	n, err := pr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, events, 1)
	assert.Equal(t, event{5, 5}, events[0])

	// Read remaining
	_, err = io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, int64(11), events[len(events)-1].transferred)
	assert.Equal(t, int64(11), pr.Transferred())

	var sum int64
	for _, e := range events {
		sum += e.n
	}
	assert.Equal(t, int64(11), sum)
}

func TestReader_OneByteReads(t *testing.T) {
	t.Parallel()

	calls := 0
	pr := NewReader(iotest.OneByteReader(bytes.NewReader([]byte("abcd"))), func(n, _ int64) {
		assert.Equal(t, int64(1), n)
		calls++
	})

	out, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(out))
	assert.Equal(t, 4, calls)
}

func TestReader_NilCallback(t *testing.T) {
	t.Parallel()

	data := []byte("hello")
	r := bytes.NewReader(data)

	pr := NewReader(r, nil)

	buf, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, data, buf)
	assert.Equal(t, int64(5), pr.Transferred())
}

func TestReader_CloseClosesUnderlying(t *testing.T) {
	t.Parallel()

	closed := false
	r := &mockCloser{
		Reader: bytes.NewReader([]byte("test")),
		onClose: func() error {
			closed = true
			return nil
		},
	}

	pr := NewReader(r, nil)
	err := pr.Close()
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestReader_CloseNonCloser(t *testing.T) {
	t.Parallel()

	// bytes.Reader doesn't implement io.Closer
	r := bytes.NewReader([]byte("test"))

	pr := NewReader(r, nil)
	err := pr.Close()
	require.NoError(t, err) // Should not error
}

type mockCloser struct {
	io.Reader
	onClose func() error
}

func (m *mockCloser) Close() error {
	return m.onClose()
}
