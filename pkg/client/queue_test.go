package client

import (
	"bytes"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(10, time.Minute)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c"))

	out := q.Drain()
	if len(out) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(out))
	}
	for i, want := range []string{"a", "b", "c"} {
		if !bytes.Equal(out[i], []byte(want)) {
			t.Errorf("frame %d: got %q, want %q", i, out[i], want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue after drain, got %d", q.Len())
	}
}

func TestQueue_EvictsOldestWhenFull(t *testing.T) {
	q := NewQueue(2, time.Minute)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c"))

	out := q.Drain()
	if len(out) != 2 {
		t.Fatalf("Expected queue capped at 2, got %d", len(out))
	}
	// 淘汰最旧的 a
	if !bytes.Equal(out[0], []byte("b")) || !bytes.Equal(out[1], []byte("c")) {
		t.Errorf("Expected [b c], got [%s %s]", out[0], out[1])
	}
}

func TestQueue_DropsAgedEntries(t *testing.T) {
	q := NewQueue(10, time.Minute)

	now := time.Now()
	q.now = func() time.Time { return now }
	q.Push([]byte("old"))

	// 两分钟后入队新帧，旧帧超龄
	q.now = func() time.Time { return now.Add(2 * time.Minute) }
	q.Push([]byte("fresh"))

	out := q.Drain()
	if len(out) != 1 || !bytes.Equal(out[0], []byte("fresh")) {
		t.Errorf("Expected only fresh frame to survive, got %d frames", len(out))
	}
}

func TestQueue_DrainDropsAged(t *testing.T) {
	q := NewQueue(10, time.Minute)

	now := time.Now()
	q.now = func() time.Time { return now }
	q.Push([]byte("a"))

	// 超龄帧在取出时也会被丢弃
	q.now = func() time.Time { return now.Add(2 * time.Minute) }
	if out := q.Drain(); len(out) != 0 {
		t.Errorf("Expected aged frames dropped on drain, got %d", len(out))
	}
}
