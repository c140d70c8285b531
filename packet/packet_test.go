package packet

import (
	"bytes"
	"io"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetSeq(5)
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	r := NewReader(&buf)
	seq, payload, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if seq != 5 {
		t.Errorf("seq = %d, want 5", seq)
	}
	if string(payload) != "hello" {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}

	if _, _, err := r.Next(); err != io.EOF {
		t.Errorf("second Next err = %v, want io.EOF", err)
	}
}

func TestLargePayloadRoundTrip(t *testing.T) {
	// A payload that is an exact multiple of MaxPayload must still emit a
	// zero-length trailer packet (spec.md §8 invariant 2).
	size := MaxPayload * 2
	payload := bytes.Repeat([]byte{0xAB}, size)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	wantPackets := size/MaxPayload + 1
	gotPackets := countPackets(t, buf.Bytes())
	if gotPackets != wantPackets {
		t.Errorf("wire packet count = %d, want %d", gotPackets, wantPackets)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))
	_, got, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round-tripped payload mismatch, len got=%d want=%d", len(got), len(payload))
	}
}

func TestFlushWithNothingWrittenSendsNoPacket(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wire bytes = %d, want 0 (no packet for an unwritten Flush)", buf.Len())
	}
}

func countPackets(t *testing.T, wire []byte) int {
	t.Helper()
	n := 0
	for len(wire) > 0 {
		if len(wire) < 4 {
			t.Fatalf("truncated header")
		}
		length := int(wire[0]) | int(wire[1])<<8 | int(wire[2])<<16
		wire = wire[4+length:]
		n++
	}
	return n
}

func TestNextCleanEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if _, _, err := r.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestNextUnexpectedEOFMidHeader(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x01, 0x00}))
	if _, _, err := r.Next(); err != io.ErrUnexpectedEOF {
		t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestNextUnexpectedEOFMidPayload(t *testing.T) {
	// Header claims 5 bytes of payload but only 2 are present.
	r := NewReader(bytes.NewReader([]byte{0x05, 0x00, 0x00, 0x00, 'h', 'i'}))
	if _, _, err := r.Next(); err != io.ErrUnexpectedEOF {
		t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestSequenceIncrementsPerPacket(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetSeq(250) // one id per wire packet: 250, then 251
	payload := bytes.Repeat([]byte{0x01}, MaxPayload+10)
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	wire := buf.Bytes()
	seq1 := wire[3]
	rest := wire[4+MaxPayload:]
	seq2 := rest[3]
	if seq1 != 250 {
		t.Errorf("seq1 = %d, want 250", seq1)
	}
	if seq2 != 251 {
		t.Errorf("seq2 = %d, want 251 (mod 256)", seq2)
	}
}

func TestBuffered(t *testing.T) {
	data := []byte{0x03, 0x00, 0x00, 0x07, 'a', 'b', 'c', 'E', 'X', 'T', 'R', 'A'}
	r := NewReader(bytes.NewReader(data))
	seq, payload, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if seq != 7 || string(payload) != "abc" {
		t.Fatalf("got seq=%d payload=%q", seq, payload)
	}
	if got := string(r.Buffered()); got != "EXTRA" {
		t.Errorf("Buffered() = %q, want %q", got, "EXTRA")
	}
}
