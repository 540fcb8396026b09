package logbuf

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of lines a Buffer keeps unless told otherwise.
const DefaultCapacity = 200

// TimeLayout is the wall-clock prefix stamped on every captured line.
const TimeLayout = "15:04:05"

// Buffer is a bounded, ordered log of timestamped lines. When full, the oldest
// line is evicted. It is safe for concurrent use by any number of writers and
// readers.
type Buffer struct {
	mu      sync.Mutex
	entries []string
	start   int
	n       int
	now     func() time.Time
	mirror  io.Writer
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock overrides the time source used for line prefixes.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithMirror copies every stamped line to w (for example a rotating file).
// Write errors on the mirror are ignored.
func WithMirror(w io.Writer) Option {
	return func(b *Buffer) { b.mirror = w }
}

// New returns an empty buffer holding at most capacity lines.
// A non-positive capacity selects DefaultCapacity.
func New(capacity int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{entries: make([]string, capacity), now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Stamp formats line the way Append stores it.
func Stamp(t time.Time, line string) string {
	return "[" + t.Format(TimeLayout) + "] " + line
}

// StripStamp removes a leading capture timestamp, if present.
func StripStamp(line string) string {
	if len(line) >= len(TimeLayout)+3 && line[0] == '[' && line[len(TimeLayout)+1] == ']' {
		if _, err := time.Parse(TimeLayout, line[1:len(TimeLayout)+1]); err == nil {
			return strings.TrimPrefix(line[len(TimeLayout)+2:], " ")
		}
	}
	return line
}

// Append stamps line with the current time and stores it, evicting the
// oldest entry when the buffer is full.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	stamped := Stamp(b.now(), line)
	c := len(b.entries)
	if b.n < c {
		b.entries[(b.start+b.n)%c] = stamped
		b.n++
	} else {
		b.entries[b.start] = stamped
		b.start = (b.start + 1) % c
	}
	mirror := b.mirror
	b.mu.Unlock()

	if mirror != nil {
		_, _ = io.WriteString(mirror, stamped+"\n")
	}
}

// Snapshot returns a copy of all lines, oldest first.
func (b *Buffer) Snapshot() []string {
	return b.Tail(-1)
}

// Tail returns a copy of the most recent n lines, oldest first.
// A negative n returns everything.
func (b *Buffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 || n > b.n {
		n = b.n
	}
	out := make([]string, n)
	c := len(b.entries)
	first := b.n - n
	for i := 0; i < n; i++ {
		out[i] = b.entries[(b.start+first+i)%c]
	}
	return out
}

// Len reports the number of stored lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Cap reports the maximum number of stored lines.
func (b *Buffer) Cap() int { return len(b.entries) }

// Drain appends every line read from r until EOF or a read error and returns
// the error, if any, other than EOF. Lines of any length are accepted; a
// trailing carriage return is dropped.
func (b *Buffer) Drain(r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			b.Append(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
