// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"errors"
	"time"
)

// MediaParser decodes Exif and track metadata from a MediaSource. The zero
// value is ready to use; Options tunes resource caps and an optional
// Timeout.
type MediaParser struct {
	Options ParseOptions
}

// NewMediaParser returns a MediaParser configured with opts.
func NewMediaParser(opts ParseOptions) *MediaParser {
	return &MediaParser{Options: opts}
}

// ParseExif decodes s's Exif/TIFF metadata into a lazy ExifIter. Returns
// ErrUnsupportedFormat if s's format carries no Exif data (a Matroska
// source, for instance).
func (p *MediaParser) ParseExif(s *MediaSource) (*ExifIter, error) {
	if !s.HasExif() {
		return nil, ErrUnsupportedFormat
	}
	if p.Options.Timeout <= 0 {
		return p.parseExif(s)
	}
	return runWithTimeout(p.Options.Timeout, func() (*ExifIter, error) {
		return p.parseExif(s)
	})
}

func (p *MediaParser) parseExif(s *MediaSource) (it *ExifIter, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = newFormatErrorf("panic during exif parse: %v", r)
		}
	}()

	l := s.loader
	var tiffStart, tiffEnd int64

	switch s.format {
	case FormatJPEG:
		tiffStart, tiffEnd, err = jpegExifSegment(l, 0)
	case FormatRAF:
		var jStart, jEnd int64
		jStart, jEnd, err = rafJpegRange(l)
		if err == nil {
			tiffStart, tiffEnd, err = jpegExifSegment(l, jStart)
			if tiffEnd > jEnd {
				err = newFormatErrorf("%w: exif segment escapes embedded jpeg", ErrMalformedBox)
			}
		}
	case FormatHEIF:
		tiffStart, tiffEnd, err = heifExifRange(l, p.Options)
	case FormatTIFF:
		win, werr := l.loadAvailable(0, l.maxBody)
		if werr != nil {
			return nil, werr
		}
		header, herr := parseTiffHeader(win, 0)
		if herr != nil {
			return nil, herr
		}
		return newExifIter(win, header, p.Options), nil
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}

	win, err := l.loadRange(tiffStart, tiffEnd)
	if err != nil {
		return nil, err
	}
	header, err := parseTiffHeader(win, tiffStart)
	if err != nil {
		return nil, err
	}
	return newExifIter(win, header, p.Options), nil
}

// heifExifRange locates the "Exif" item inside a HEIF file's top-level
// meta box.
func heifExifRange(l *bufferedLoader, opts Options) (int64, int64, error) {
	root := newBoxWalker(l, 0, 1<<62, 0)
	for {
		h, ok, err := root.next()
		if err != nil {
			if IsFormatError(err) {
				return 0, 0, ErrUnsupportedFormat
			}
			return 0, 0, err
		}
		if !ok {
			return 0, 0, ErrUnsupportedFormat
		}
		if h.is("meta") {
			m, err := parseHeifMeta(root.child(h), opts)
			if err != nil {
				return 0, 0, err
			}
			return heifExifItemRange(m, l)
		}
		root.skip(h)
	}
}

// ParseTrack decodes s's container-level track metadata (dimensions,
// duration, title, author, creation time, GPS). Returns
// ErrUnsupportedFormat if s's format carries no track metadata (a bare
// TIFF/RAF image, for instance).
func (p *MediaParser) ParseTrack(s *MediaSource) (*TrackInfo, error) {
	if !s.HasTrack() {
		return nil, ErrUnsupportedFormat
	}
	if p.Options.Timeout <= 0 {
		return p.parseTrack(s)
	}
	return runWithTimeout(p.Options.Timeout, func() (*TrackInfo, error) {
		return p.parseTrack(s)
	})
}

func (p *MediaParser) parseTrack(s *MediaSource) (info *TrackInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = newFormatErrorf("panic during track parse: %v", r)
		}
	}()

	switch s.format {
	case FormatISOBMFF, FormatHEIF:
		return parseISOBMFFTrack(s.loader, s.format, p.Options)
	case FormatMatroska:
		return parseMatroskaTrack(s.loader, p.Options)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// runWithTimeout races fn against d, returning a deadline error if fn has
// not completed when the timer fires. fn continues running on its
// goroutine after a timeout; callers must not reuse the MediaSource
// concurrently with a timed-out parse.
func runWithTimeout[T any](d time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-time.After(d):
		var zero T
		return zero, errParseTimeout
	}
}

var errParseTimeout = errors.New("media parse timed out")
