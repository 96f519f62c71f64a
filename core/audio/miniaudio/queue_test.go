package miniaudio

import (
	"bytes"
	"testing"
)

func TestChunkerRegroupsPeriods(t *testing.T) {
	c := newChunker(4)
	var chunks [][]byte
	emit := func(chunk []byte) { chunks = append(chunks, chunk) }

	c.write([]byte{1, 2, 3}, emit)
	if len(chunks) != 0 {
		t.Fatalf("expected no chunk yet, got %d", len(chunks))
	}
	c.write([]byte{4, 5, 6, 7, 8, 9}, emit)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[0], []byte{1, 2, 3, 4}) || !bytes.Equal(chunks[1], []byte{5, 6, 7, 8}) {
		t.Fatalf("unexpected chunks %v", chunks)
	}

	c.reset()
	c.write([]byte{10, 11, 12, 13}, emit)
	if !bytes.Equal(chunks[2], []byte{10, 11, 12, 13}) {
		t.Fatalf("expected reset to drop the partial chunk, got %v", chunks[2])
	}
}

func TestPlaybackQueuePadsWithSilence(t *testing.T) {
	var q playbackQueue
	q.push([]byte{1, 2, 3})

	out := make([]byte, 5)
	if n := q.fill(out, 0xFF); n != 3 {
		t.Fatalf("expected 3 bytes copied, got %d", n)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 0xFF, 0xFF}) {
		t.Fatalf("unexpected output %v", out)
	}

	q.push([]byte{4, 5})
	q.clear()
	out = make([]byte, 2)
	if n := q.fill(out, 0); n != 0 {
		t.Fatalf("expected cleared queue to be empty, got %d bytes", n)
	}
}
