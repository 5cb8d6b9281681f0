// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import "time"

// Options tunes the resource caps and diagnostics used while parsing a
// MediaSource. The zero value is usable: every field defaults the way
// imagemeta.Decode defaults LimitNumTags/LimitTagSize when left at zero.
type Options struct {
	// MaxChunk bounds a single read from the source. Zero means
	// DefaultMaxChunk.
	MaxChunk int64

	// MaxBody bounds the total bytes buffered across one parse via
	// loadRange. Zero means DefaultMaxBody.
	MaxBody int64

	// SkipThreshold is the gap size, in bytes, above which the loader
	// prefers seeking over reading-and-discarding. Zero means
	// DefaultSkipThreshold.
	SkipThreshold int64

	// BoxDepth bounds ISOBMFF/HEIF box nesting. Zero means DefaultBoxDepth.
	BoxDepth int

	// EbmlDepth bounds Matroska element nesting. Zero means
	// DefaultEbmlDepth.
	EbmlDepth int

	// IfdDepth bounds TIFF/Exif sub-IFD chase depth. Zero means
	// DefaultIfdDepth.
	IfdDepth int

	// MaxIfdEntries bounds the entry count of a single IFD. Zero means
	// DefaultMaxIfdEntries.
	MaxIfdEntries int

	// MaxVisitedOffsets bounds how many distinct IFD offsets a parse will
	// remember for cycle detection before giving up. Zero means
	// DefaultMaxVisited.
	MaxVisitedOffsets int

	// Timeout, if non-zero, races the parse against time.After and returns
	// context.DeadlineExceeded-like behavior by aborting with an error,
	// matching imagemeta.Decode's Options.Timeout.
	Timeout time.Duration

	// Warnf, if non-nil, is called for recoverable anomalies: an Exif entry
	// or IFD that fails to decode and is skipped, and a moov, HEIF meta or
	// Matroska Segment walk that stops on an error. Unknown boxes are
	// skipped without a call. It never aborts a parse. Default is a no-op.
	Warnf func(format string, args ...any)
}

func (o Options) maxChunkOrDefault() int64 {
	if o.MaxChunk > 0 {
		return o.MaxChunk
	}
	return DefaultMaxChunk
}

func (o Options) maxBodyOrDefault() int64 {
	if o.MaxBody > 0 {
		return o.MaxBody
	}
	return DefaultMaxBody
}

func (o Options) skipThresholdOrDefault() int64 {
	if o.SkipThreshold > 0 {
		return o.SkipThreshold
	}
	return DefaultSkipThreshold
}

func (o Options) boxDepthOrDefault() int {
	if o.BoxDepth > 0 {
		return o.BoxDepth
	}
	return DefaultBoxDepth
}

func (o Options) ebmlDepthOrDefault() int {
	if o.EbmlDepth > 0 {
		return o.EbmlDepth
	}
	return DefaultEbmlDepth
}

func (o Options) ifdDepthOrDefault() int {
	if o.IfdDepth > 0 {
		return o.IfdDepth
	}
	return DefaultIfdDepth
}

func (o Options) maxIfdEntriesOrDefault() int {
	if o.MaxIfdEntries > 0 {
		return o.MaxIfdEntries
	}
	return DefaultMaxIfdEntries
}

func (o Options) maxVisitedOrDefault() int {
	if o.MaxVisitedOffsets > 0 {
		return o.MaxVisitedOffsets
	}
	return DefaultMaxVisited
}

func (o Options) warnf() func(string, ...any) {
	if o.Warnf != nil {
		return o.Warnf
	}
	return func(string, ...any) {}
}

// ParseOptions is the MediaParser-level alias for Options, kept as a
// distinct name because spec.md §6 describes parser construction and
// per-call tuning as separate concepts even though this implementation
// backs both with the same struct.
type ParseOptions = Options
