package channel

import (
	"bytes"
	"io"
	"sync"
)

// capture accumulates stdout and stderr of one command and optionally
// echoes both to a shared writer. The two streams are written from
// separate goroutines (os/exec and x/crypto/ssh copy each stream in its
// own goroutine), so neither can stall the other; the mutex keeps echoed
// chunks whole.
type capture struct {
	mu     sync.Mutex
	echo   io.Writer
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newCapture(echo io.Writer) *capture {
	return &capture{echo: echo}
}

// Stdout returns the writer for the command's standard output.
func (c *capture) Stdout() io.Writer { return captureStream{c: c, buf: &c.stdout} }

// Stderr returns the writer for the command's standard error.
func (c *capture) Stderr() io.Writer { return captureStream{c: c, buf: &c.stderr} }

func (c *capture) stdoutBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.stdout.Bytes())
}

func (c *capture) stderrBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.stderr.Bytes())
}

type captureStream struct {
	c   *capture
	buf *bytes.Buffer
}

func (s captureStream) Write(p []byte) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.buf.Write(p)
	if s.c.echo != nil {
		// A broken echo (closed terminal) must not stop the drain.
		_, _ = s.c.echo.Write(p)
	}
	return len(p), nil
}
