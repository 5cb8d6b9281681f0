// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

// Window is a contiguous in-memory buffer plus the absolute offset in the
// source stream where buf[0] lives. All sub-parsers (TIFF/IFD, EXIF value
// conversion) operate on slices of a Window and record offsets relative to
// an anchor measured against Window.base, never against buf indices
// directly, so a Window can be handed off to code that only ever saw a
// byte-range extracted from the middle of a much larger file.
type Window struct {
	buf  []byte
	base int64
}

// newWindow wraps buf as a Window starting at absolute offset base.
func newWindow(buf []byte, base int64) Window {
	return Window{buf: buf, base: base}
}

// Len returns the number of buffered bytes.
func (w Window) Len() int64 {
	return int64(len(w.buf))
}

// Base returns the absolute offset of the first buffered byte.
func (w Window) Base() int64 {
	return w.base
}

// End returns the absolute offset just past the last buffered byte.
func (w Window) End() int64 {
	return w.base + int64(len(w.buf))
}

// Contains reports whether the absolute half-open range [start, end) is
// fully within the window.
func (w Window) Contains(start, end int64) bool {
	return start >= w.base && end <= w.End() && start <= end
}

// Slice returns the bytes for the absolute half-open range [start, end). The
// second return value is false if the range escapes the window; Slice never
// returns bytes past what was buffered, and callers in this package report
// that case as a malformed or out-of-range input.
func (w Window) Slice(start, end int64) ([]byte, bool) {
	if !w.Contains(start, end) {
		return nil, false
	}
	lo := start - w.base
	hi := end - w.base
	return w.buf[lo:hi], true
}

// Bytes returns the full buffered slice.
func (w Window) Bytes() []byte {
	return w.buf
}
