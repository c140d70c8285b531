// Package packet implements MySQL packet framing: a 4-byte header (3-byte
// little-endian payload length, 1-byte sequence id) followed by that many
// payload bytes, with reassembly/segmentation of logical messages whose
// payload is >= 2^24-1 bytes (spec.md §3, §4.1).
package packet

import (
	"bufio"
	"errors"
	"io"
)

// MaxPayload is the largest payload a single wire packet can carry. Logical
// messages at or above this size are split across multiple packets.
const MaxPayload = 1<<24 - 1

// ErrPacketTooLarge reports a payload too large to represent. Nothing in
// this package returns it: Writer.Flush segments payloads of any length.
var ErrPacketTooLarge = errors.New("packet: payload exceeds representable size")

// Reader reads length-prefixed MySQL packets off an underlying io.Reader,
// transparently reassembling multi-packet (>= MaxPayload) messages.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r for packet-at-a-time reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next reads one logical message: possibly several MaxPayload-sized wire
// packets followed by a short (or zero-length) terminating packet. It
// returns the sequence id of the *last* constituent packet and the
// concatenated payload. A clean end of stream (no bytes read at all) is
// reported as io.EOF; anything else mid-message is io.ErrUnexpectedEOF or a
// wrapped read error.
func (r *Reader) Next() (seq byte, payload []byte, err error) {
	var hdr [4]byte
	var out []byte

	for {
		if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) && len(out) == 0 {
				return 0, nil, io.EOF
			}
			return 0, nil, unexpectedEOF(err)
		}

		length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		seq = hdr[3]

		if length > 0 {
			buf := make([]byte, length)
			if _, err := io.ReadFull(r.br, buf); err != nil {
				return 0, nil, unexpectedEOF(err)
			}
			out = append(out, buf...)
		}

		if length < MaxPayload {
			return seq, out, nil
		}
		// length == MaxPayload: another packet follows, possibly a
		// zero-length trailer.
	}
}

// Buffered returns (and discards from the internal buffer) any bytes the
// reader has already pulled from the underlying stream but not yet
// returned via Next. Used by tlsupgrade to hand already-read ClientHello
// bytes to the TLS layer (spec.md §4.6).
func (r *Reader) Buffered() []byte {
	n := r.br.Buffered()
	if n == 0 {
		return nil
	}
	b, _ := r.br.Peek(n)
	out := make([]byte, len(b))
	copy(out, b)
	_, _ = r.br.Discard(n)
	return out
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer queues logical packet payloads in memory and flushes them to an
// underlying io.Writer, each as one or more length-prefixed packets,
// tracking the next outbound sequence id.
type Writer struct {
	w       io.Writer
	pending [][]byte
	seq     byte
}

// NewWriter wraps w for packet-at-a-time writing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write queues a copy of p as the payload of one logical packet. It never
// itself touches the underlying transport; call Flush to segment and send.
func (w *Writer) Write(p []byte) (int, error) {
	w.pending = append(w.pending, append([]byte(nil), p...))
	return len(p), nil
}

// SetSeq overrides the next outbound sequence id. The intermediary uses
// this to mirror the client's inbound sequence id + 1 at the start of
// every command response (spec.md §3, §5).
func (w *Writer) SetSeq(n byte) {
	w.seq = n
}

// Flush sends the queued payloads in order, segmenting each into
// MaxPayload-sized slices and prepending a header to each (incrementing
// the sequence id per packet). The queue is reset regardless of outcome.
// A Flush with nothing written since the last Flush sends no packet at
// all — callers that produce no response (STMT_CLOSE,
// STMT_SEND_LONG_DATA) must not emit a stray zero-length packet.
func (w *Writer) Flush() error {
	defer func() { w.pending = w.pending[:0] }()

	for _, p := range w.pending {
		if err := w.writePacket(p); err != nil {
			return err
		}
	}
	return nil
}

// writePacket writes one logical payload as wire packets.
func (w *Writer) writePacket(buf []byte) error {
	for {
		n := len(buf)
		if n > MaxPayload {
			n = MaxPayload
		}
		var hdr [4]byte
		hdr[0] = byte(n)
		hdr[1] = byte(n >> 8)
		hdr[2] = byte(n >> 16)
		hdr[3] = w.seq
		w.seq++

		if _, err := w.w.Write(hdr[:]); err != nil {
			return err
		}
		if n > 0 {
			if _, err := w.w.Write(buf[:n]); err != nil {
				return err
			}
		}
		buf = buf[n:]
		if n < MaxPayload {
			return nil
		}
	}
}
