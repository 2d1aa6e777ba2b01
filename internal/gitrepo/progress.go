package gitrepo

import (
	"bytes"
	"io"
	"regexp"
	"strconv"
	"sync"
)

// ProgressFunc receives a completion percentage for long-running remote
// operations. Returning false asks the gateway to stop the operation.
type ProgressFunc func(percent int) bool

var percentRe = regexp.MustCompile(`(\d{1,3})%`)

// progressWriter adapts go-git sideband progress output to a ProgressFunc.
// Remote messages look like "Receiving objects:  42% (21/50)\r".
type progressWriter struct {
	mu     sync.Mutex
	fn     ProgressFunc
	stop   func()
	last   int
	buf    []byte
	halted bool
}

func newProgressWriter(fn ProgressFunc, stop func()) *progressWriter {
	if fn == nil {
		return nil
	}
	return &progressWriter{fn: fn, stop: stop, last: -1}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		w.line(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) line(l []byte) {
	if w.halted {
		return
	}
	m := percentRe.FindSubmatch(l)
	if m == nil {
		return
	}
	pct, err := strconv.Atoi(string(m[1]))
	if err != nil || pct == w.last || pct > 100 {
		return
	}
	w.last = pct
	if !w.fn(pct) {
		w.halted = true
		if w.stop != nil {
			w.stop()
		}
	}
}

// writer returns w as an io.Writer, or a nil interface when w is nil.
func (w *progressWriter) writer() io.Writer {
	if w == nil {
		return nil
	}
	return w
}
