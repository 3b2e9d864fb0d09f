package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/meigma/conncall"
	"github.com/meigma/conncall/cmd/conncall/cli/config"
)

// display renders progress for a set of connections, indexed by script.
// Its methods are called from delivery lanes and must be safe for
// concurrent use.
type display interface {
	progress(i int, p conncall.Progress)
	done(i int)
	finish()
}

// newDisplay picks a display for the configured mode. Auto mode draws
// progress bars only when w is a terminal.
func newDisplay(mode string, w io.Writer, names []string) display {
	switch mode {
	case config.ProgressTTY:
		return newBarDisplay(w, names)
	case config.ProgressPlain:
		return &plainDisplay{w: w, names: names}
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return newBarDisplay(w, names)
	}
	return &plainDisplay{w: w, names: names}
}

// plainDisplay prints one line per progress notification.
type plainDisplay struct {
	mu    sync.Mutex
	w     io.Writer
	names []string
}

func (d *plainDisplay) progress(i int, p conncall.Progress) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.w, "%s: sent %s received %s\n",
		d.names[i], transferred(p.BytesSent, p.ExpectedSend), transferred(p.BytesReceived, p.ExpectedReceive))
}

func (d *plainDisplay) done(int) {}

func (d *plainDisplay) finish() {}

// barDisplay redraws one progress bar per connection in place.
type barDisplay struct {
	mu        sync.Mutex
	w         io.Writer
	names     []string
	fractions []float64
	bar       progress.Model
	width     int
	drawn     bool
}

func newBarDisplay(w io.Writer, names []string) *barDisplay {
	width := 0
	for _, n := range names {
		width = max(width, len(n))
	}
	return &barDisplay{
		w:         w,
		names:     names,
		fractions: make([]float64, len(names)),
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width:     width,
	}
}

func (d *barDisplay) progress(i int, p conncall.Progress) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fractions[i] = p.Fraction()
	d.render()
}

func (d *barDisplay) done(i int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fractions[i] = 1
	d.render()
}

func (d *barDisplay) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.drawn {
		d.render()
	}
}

// render must be called with mu held.
func (d *barDisplay) render() {
	var b strings.Builder
	if d.drawn {
		fmt.Fprintf(&b, "\x1b[%dA", len(d.names))
	}
	for i, name := range d.names {
		fmt.Fprintf(&b, "\r\x1b[2K%-*s %s\n", d.width, name, d.bar.ViewAs(d.fractions[i]))
	}
	d.drawn = true
	//nolint:errcheck // progress output errors are not critical
	io.WriteString(d.w, b.String())
}

// transferred formats a byte counter against its expected total.
func transferred(n, expected int64) string {
	if expected < 0 {
		return humanize.Bytes(safeUint64(n))
	}
	return humanize.Bytes(safeUint64(n)) + "/" + humanize.Bytes(safeUint64(expected))
}

func safeUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
