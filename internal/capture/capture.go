// Package capture records the bytes of a response body as they are delivered
// to the client, so a secondary consumer can inspect the complete body once
// delivery has finished.
//
// Capture never alters what the client receives: every chunk is forwarded
// once, in order, with its original boundaries. The copy kept for the
// secondary consumer is request-local and needs no synchronization.
package capture

import (
	"bytes"
	"fmt"
	"iter"
	"net/http"
	"unicode/utf8"
)

// CountOnly is a limit that keeps no bytes while still counting them.
const CountOnly int64 = -1

// Buffer accumulates chunks up to an optional byte limit.
type Buffer struct {
	buf       bytes.Buffer
	limit     int64 // 0 means unbounded, CountOnly keeps nothing
	size      int64 // total bytes observed, including any past the limit
	chunks    int
	truncated bool
}

// NewBuffer returns a Buffer that keeps at most limit bytes. A limit of zero
// keeps everything; CountOnly keeps nothing.
func NewBuffer(limit int64) *Buffer {
	return &Buffer{limit: limit}
}

func (b *Buffer) append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.chunks++
	b.size += int64(len(p))
	if b.limit < 0 {
		return
	}
	if b.limit == 0 {
		b.buf.Write(p)
		return
	}
	room := b.limit - int64(b.buf.Len())
	if room <= 0 {
		b.truncated = true
		return
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return
	}
	b.buf.Write(p)
}

// Bytes returns the captured bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.buf.Bytes() }

// Size returns the total number of bytes that passed through, which may
// exceed len(Bytes()) when the buffer was truncated.
func (b *Buffer) Size() int64 { return b.size }

// Chunks returns the number of non-empty chunks observed.
func (b *Buffer) Chunks() int { return b.chunks }

// Truncated reports whether bytes beyond the limit were dropped from the copy.
func (b *Buffer) Truncated() bool { return b.truncated }

// Replay returns a single-use sequence that yields the captured body as one
// chunk. It is meant to be built once, after the source has been exhausted.
func (b *Buffer) Replay() iter.Seq[[]byte] {
	body := bytes.Clone(b.buf.Bytes())
	return func(yield func([]byte) bool) {
		if len(body) > 0 {
			yield(body)
		}
	}
}

// Tee forwards every chunk of src unchanged to whoever ranges over the
// returned sequence, appending each chunk to the returned Buffer as it
// passes. Like src, the returned sequence may be consumed only once. If the
// consumer stops early, the buffer holds only the chunks it received.
func Tee(src iter.Seq[[]byte]) (iter.Seq[[]byte], *Buffer) {
	buf := NewBuffer(0)
	return func(yield func([]byte) bool) {
		for chunk := range src {
			buf.append(chunk)
			if !yield(chunk) {
				return
			}
		}
	}, buf
}

// Text decodes the captured bytes. When the copy was truncated inside a
// multi-byte character, the incomplete tail is dropped before decoding.
func (b *Buffer) Text() (string, bool) {
	data := b.buf.Bytes()
	if b.truncated {
		data = trimPartialRune(data)
	}
	return Decode(data)
}

func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return b
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}

// Recorder wraps an http.ResponseWriter. Writes go straight through to the
// client and the accepted bytes are copied into a Buffer.
type Recorder struct {
	http.ResponseWriter
	buf         *Buffer
	status      int
	wroteHeader bool
}

// NewRecorder wraps w. limit bounds the captured copy; see NewBuffer.
func NewRecorder(w http.ResponseWriter, limit int64) *Recorder {
	return &Recorder{
		ResponseWriter: w,
		buf:            NewBuffer(limit),
		status:         http.StatusOK,
	}
}

// WriteHeader records the first status code and forwards it. Later calls are
// ignored, matching net/http semantics.
func (r *Recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *Recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(p)
	// Only what the client accepted is recorded.
	r.buf.append(p[:n])
	return n, err
}

// Flush forwards to the underlying writer when it supports streaming.
func (r *Recorder) Flush() {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	http.NewResponseController(r.ResponseWriter).Flush()
}

// Unwrap returns the underlying ResponseWriter, required for
// http.ResponseController and interface assertions through middleware chains.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Status returns the status code sent to the client (200 if none was set).
func (r *Recorder) Status() int { return r.status }

// Body returns the captured body bytes.
func (r *Recorder) Body() []byte { return r.buf.Bytes() }

// Buffer exposes the capture buffer for size and truncation details.
func (r *Recorder) Buffer() *Buffer { return r.buf }

// Decode returns b as text when it is valid UTF-8. Otherwise it returns a
// marker describing the undecodable payload and false.
func Decode(b []byte) (string, bool) {
	if utf8.Valid(b) {
		return string(b), true
	}
	return UndecodableMarker(len(b)), false
}

// UndecodableMarker is the text stored in place of a body that is not valid UTF-8.
func UndecodableMarker(n int) string {
	return fmt.Sprintf("<undecodable body: %d bytes>", n)
}
