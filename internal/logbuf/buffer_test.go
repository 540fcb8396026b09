package logbuf

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 5, 1, 12, 30, 45, 0, time.Local)
	return func() time.Time { return t0 }
}

func TestAppendStampsLines(t *testing.T) {
	b := New(0, WithClock(fixedClock()))
	b.Append("> bun run dev")
	got := b.Snapshot()
	if len(got) != 1 || got[0] != "[12:30:45] > bun run dev" {
		t.Fatalf("unexpected snapshot: %q", got)
	}
	if b.Cap() != DefaultCapacity {
		t.Fatalf("cap = %d, want %d", b.Cap(), DefaultCapacity)
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	b := New(DefaultCapacity, WithClock(fixedClock()))
	for i := 0; i < 250; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}
	got := b.Snapshot()
	if len(got) != DefaultCapacity {
		t.Fatalf("len = %d, want %d", len(got), DefaultCapacity)
	}
	if StripStamp(got[0]) != "line-50" {
		t.Fatalf("first = %q, want line-50", got[0])
	}
	if StripStamp(got[len(got)-1]) != "line-249" {
		t.Fatalf("last = %q, want line-249", got[len(got)-1])
	}
	for i, l := range got {
		if want := fmt.Sprintf("line-%d", 50+i); StripStamp(l) != want {
			t.Fatalf("line %d = %q, want %q", i, l, want)
		}
	}
}

func TestTail(t *testing.T) {
	b := New(5, WithClock(fixedClock()))
	for i := 0; i < 8; i++ {
		b.Append(fmt.Sprintf("%d", i))
	}
	tail := b.Tail(2)
	if len(tail) != 2 || StripStamp(tail[0]) != "6" || StripStamp(tail[1]) != "7" {
		t.Fatalf("tail = %q", tail)
	}
	if all := b.Tail(100); len(all) != 5 {
		t.Fatalf("oversized tail len = %d", len(all))
	}
	if none := b.Tail(0); len(none) != 0 {
		t.Fatalf("zero tail = %q", none)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New(3)
	b.Append("a")
	s := b.Snapshot()
	s[0] = "mutated"
	if StripStamp(b.Snapshot()[0]) != "a" {
		t.Fatalf("snapshot aliases internal storage")
	}
}

func TestDrainSplitsLines(t *testing.T) {
	b := New(10, WithClock(fixedClock()))
	long := strings.Repeat("x", 200_000)
	in := "Local:   http://localhost:5173/\r\nready\n" + long + "\nno newline at end"
	if err := b.Drain(strings.NewReader(in)); err != nil {
		t.Fatalf("drain: %v", err)
	}
	got := b.Snapshot()
	want := []string{"Local:   http://localhost:5173/", "ready", long, "no newline at end"}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if StripStamp(got[i]) != want[i] {
			t.Fatalf("line %d mismatch", i)
		}
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestDrainReturnsReadError(t *testing.T) {
	b := New(1)
	boom := io.ErrClosedPipe
	if err := b.Drain(failingReader{err: boom}); err != boom {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestMirrorReceivesStampedLines(t *testing.T) {
	var buf bytes.Buffer
	b := New(2, WithClock(fixedClock()), WithMirror(&buf))
	b.Append("one")
	b.Append("two")
	b.Append("three")
	want := "[12:30:45] one\n[12:30:45] two\n[12:30:45] three\n"
	if buf.String() != want {
		t.Fatalf("mirror = %q, want %q", buf.String(), want)
	}
	if b.Len() != 2 {
		t.Fatalf("len = %d", b.Len())
	}
}

func TestConcurrentWriters(t *testing.T) {
	b := New(DefaultCapacity)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Append(fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()
	if b.Len() != DefaultCapacity {
		t.Fatalf("len = %d", b.Len())
	}
	// per-writer order must survive eviction
	last := map[string]int{}
	for _, l := range b.Snapshot() {
		var w, i int
		if _, err := fmt.Sscanf(StripStamp(l), "w%d-%d", &w, &i); err != nil {
			t.Fatalf("bad line %q", l)
		}
		key := fmt.Sprint(w)
		if prev, ok := last[key]; ok && i <= prev {
			t.Fatalf("writer %d out of order: %d after %d", w, i, prev)
		}
		last[key] = i
	}
}

func TestStripStamp(t *testing.T) {
	cases := map[string]string{
		"[12:30:45] hello": "hello",
		"[xx:yy:zz] hello": "[xx:yy:zz] hello",
		"plain":            "plain",
		"[12:30:45]":       "[12:30:45]",
		"[12:30:45] ":      "",
	}
	for in, want := range cases {
		if got := StripStamp(in); got != want {
			t.Fatalf("StripStamp(%q) = %q, want %q", in, got, want)
		}
	}
}
