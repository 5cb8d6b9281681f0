// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"errors"
	"fmt"
)

// Sentinel structural errors. These abort the current parse; compare with
// errors.Is, not ==, since they may be wrapped with extra context.
var (
	// ErrUnsupportedFormat is returned when the detector cannot classify the
	// stream from its prefix, or recognizes the container but not the
	// specific sub-variant (e.g. a HEIF iloc construction method other than
	// file-offset).
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrOversizedBody is returned when a box, EBML element, or IFD value
	// would require buffering more than Options.MaxBody bytes.
	ErrOversizedBody = errors.New("oversized body")

	// ErrOversizedAllocation reports an allocation above Options.MaxChunk.
	// No parse in this package returns it: reads are split into
	// MaxChunk-sized pieces, and the total buffered per parse is bounded by
	// MaxBody (ErrOversizedBody).
	ErrOversizedAllocation = errors.New("oversized allocation")

	// ErrMalformedBox is returned for structurally invalid ISOBMFF boxes.
	ErrMalformedBox = errors.New("malformed box")

	// ErrMalformedEbml is returned for structurally invalid EBML elements.
	ErrMalformedEbml = errors.New("malformed ebml")

	// ErrMalformedTiff is returned for structurally invalid TIFF/IFD data.
	ErrMalformedTiff = errors.New("malformed tiff")

	// ErrIfdCycle is returned when an IFD offset has already been visited in
	// this parse, which would otherwise loop forever.
	ErrIfdCycle = errors.New("ifd cycle detected")

	// ErrDepthExceeded is returned when a container nests deeper than the
	// configured depth cap (box, EBML, or IFD).
	ErrDepthExceeded = errors.New("depth exceeded")

	// ErrEntryTaken reports a second read of a lazily materialized value.
	// No code path in this package returns it: ExifIter decodes an entry
	// afresh on every pass, including after CloneAndRewind.
	ErrEntryTaken = errors.New("entry has already been taken")
)

// errStop is a sentinel for unwinding to a recover point by panic. Nothing
// in this package panics with it; ParseExif and ParseTrack recover any
// panic raised during a parse and return it as an error.
var errStop = errors.New("stop")

// FormatError wraps a structural parse failure. Callers can test for it with
// errors.As or the IsFormatError helper.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return "invalid format: " + e.Err.Error()
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Is reports whether target is also a *FormatError, so errors.Is(err,
// &FormatError{}) matches regardless of the wrapped cause.
func (e *FormatError) Is(target error) bool {
	_, ok := target.(*FormatError)
	return ok
}

// IsFormatError reports whether err is, or wraps, a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

func newFormatErrorf(format string, args ...any) error {
	return &FormatError{fmt.Errorf(format, args...)}
}

func newFormatError(err error) error {
	return &FormatError{err}
}

// InvalidEntryError reports that a single IFD entry failed to decode. It
// never aborts a parse: ExifIter passes it to Options.Warnf, skips the
// entry without yielding it, and continues with the next one.
type InvalidEntryError struct {
	TagCode uint16
	Reason  string
}

func (e *InvalidEntryError) Error() string {
	return fmt.Sprintf("invalid entry for tag 0x%04x: %s", e.TagCode, e.Reason)
}

// InvalidDateTimeError reports that a date/time value could not be parsed.
type InvalidDateTimeError struct {
	Value  string
	Reason string
}

func (e *InvalidDateTimeError) Error() string {
	return fmt.Sprintf("invalid date/time %q: %s", e.Value, e.Reason)
}

// InvalidGPSError reports that a GPS coordinate or ISO-6709 string could not
// be decoded.
type InvalidGPSError struct {
	Reason string
}

func (e *InvalidGPSError) Error() string {
	return "invalid gps info: " + e.Reason
}
