package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxLineLength bounds a buffered partial line.
const DefaultMaxLineLength = 4096

const linePreviewLen = 64

var ErrLineTooLong = errors.New("line exceeds maximum length")

// Frame is one framed line or a framing failure.
type Frame struct {
	Line string
	Err  error
}

// LineFramer splits a byte stream into trimmed, non-empty text lines.
// It is not safe for concurrent use.
type LineFramer struct {
	buf      []byte
	maxLine  int
	skipping bool
}

func NewLineFramer(maxLine int) *LineFramer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}

	return &LineFramer{maxLine: maxLine}
}

// Feed appends p and returns every complete line in arrival order.
// A trailing partial line stays buffered for the next call.
func (f *LineFramer) Feed(p []byte) []Frame {
	var frames []Frame
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			frames = f.buffer(frames, p)
			break
		}

		chunk := p[:idx]
		p = p[idx+1:]
		if f.skipping {
			f.skipping = false
			continue
		}
		if len(f.buf)+len(chunk) > f.maxLine {
			frames = append(frames, f.overflow(chunk))
			f.buf = f.buf[:0]
			continue
		}

		f.buf = append(f.buf, chunk...)
		line := strings.TrimSpace(string(f.buf))
		f.buf = f.buf[:0]
		if line != "" {
			frames = append(frames, Frame{Line: line})
		}
	}

	return frames
}

// Buffered reports the size of the pending partial line.
func (f *LineFramer) Buffered() int {
	return len(f.buf)
}

// Reset drops any partial line.
func (f *LineFramer) Reset() {
	f.buf = f.buf[:0]
	f.skipping = false
}

func (f *LineFramer) buffer(frames []Frame, p []byte) []Frame {
	if f.skipping {
		return frames
	}
	if len(f.buf)+len(p) > f.maxLine {
		frames = append(frames, f.overflow(p))
		f.buf = f.buf[:0]
		f.skipping = true

		return frames
	}
	f.buf = append(f.buf, p...)

	return frames
}

func (f *LineFramer) overflow(tail []byte) Frame {
	preview := make([]byte, 0, linePreviewLen)
	preview = append(preview, f.buf[:min(len(f.buf), linePreviewLen)]...)
	if len(preview) < linePreviewLen {
		preview = append(preview, tail[:min(len(tail), linePreviewLen-len(preview))]...)
	}

	return Frame{
		Line: string(preview),
		Err:  fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, f.maxLine),
	}
}
