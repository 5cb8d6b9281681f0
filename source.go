// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"bytes"
	"io"
)

// Format identifies the detected container/image format.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatHEIF
	FormatISOBMFF
	FormatMatroska
	FormatTIFF
	FormatRAF
)

//go:generate stringer -type=Format

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatHEIF:
		return "heif"
	case FormatISOBMFF:
		return "isobmff"
	case FormatMatroska:
		return "matroska"
	case FormatTIFF:
		return "tiff"
	case FormatRAF:
		return "raf"
	default:
		return "unknown"
	}
}

const formatDetectPrefixLen = 64

// DetectFormat classifies a stream from its first bytes, with no I/O
// beyond what the caller already buffered. prefix should hold at least
// formatDetectPrefixLen bytes when available; a shorter prefix is matched
// against whichever signatures fit.
func DetectFormat(prefix []byte) (Format, error) {
	switch {
	case len(prefix) >= 3 && prefix[0] == 0xFF && prefix[1] == 0xD8 && prefix[2] == 0xFF:
		return FormatJPEG, nil
	case len(prefix) >= 4 && prefix[0] == 'I' && prefix[1] == 'I' && prefix[2] == 42 && prefix[3] == 0:
		return tiffOrRAF(prefix), nil
	case len(prefix) >= 4 && prefix[0] == 'M' && prefix[1] == 'M' && prefix[2] == 0 && prefix[3] == 42:
		return tiffOrRAF(prefix), nil
	case len(prefix) >= 4 && bytes.Equal(prefix[0:4], []byte("FUJIFILMCCD-RAW")[0:4]):
		return FormatRAF, nil
	case len(prefix) >= 12 && bytes.Equal(prefix[4:8], []byte("ftyp")):
		return detectFtypFormat(prefix), nil
	case len(prefix) >= 4 && bytes.Equal(prefix[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatMatroska, nil
	default:
		return FormatUnknown, ErrUnsupportedFormat
	}
}

func tiffOrRAF(prefix []byte) Format {
	return FormatTIFF
}

// detectFtypFormat inspects an ISOBMFF major/compatible brand list to
// decide between a plain ISOBMFF container (mp4/mov/3gp/...) and HEIF/HEIC/
// AVIF, which reuse the same box format but carry an "heic"/"heix"/"mif1"/
// "avif"/"avis" brand.
func detectFtypFormat(prefix []byte) Format {
	brands := make(map[string]bool)
	if len(prefix) >= 12 {
		brands[string(prefix[8:12])] = true
	}
	for off := 16; off+4 <= len(prefix); off += 4 {
		brands[string(prefix[off:off+4])] = true
	}
	heifBrands := []string{"heic", "heix", "heim", "heis", "hevc", "hevx", "mif1", "msf1", "avif", "avis"}
	for _, b := range heifBrands {
		if brands[b] {
			return FormatHEIF
		}
	}
	return FormatISOBMFF
}

// MediaSource wraps a reader, classifying its format once via a bounded
// prefix read and exposing the loader the parser stages use to walk the
// rest of the stream.
type MediaSource struct {
	loader *bufferedLoader
	format Format
	closer io.Closer
}

// NewMediaSource detects r's format from its first bytes and returns a
// MediaSource ready for MediaParser.ParseExif/ParseTrack. It consumes the
// detection prefix from r but does not require r to be seekable, though
// seekable sources (e.g. *os.File) let later stages skip ahead cheaply.
func NewMediaSource(r io.Reader, opts Options) (*MediaSource, error) {
	loader := newBufferedLoader(r, opts)
	prefix, err := loader.loadAvailable(0, formatDetectPrefixLen)
	if err != nil {
		return nil, err
	}
	format, err := DetectFormat(prefix.Bytes())
	if err != nil {
		return nil, err
	}
	src := &MediaSource{loader: loader, format: format}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src, nil
}

// Format returns the detected container/image format.
func (s *MediaSource) Format() Format {
	return s.format
}

// HasExif reports whether this format is one ParseExif supports.
func (s *MediaSource) HasExif() bool {
	switch s.format {
	case FormatJPEG, FormatHEIF, FormatTIFF, FormatRAF:
		return true
	default:
		return false
	}
}

// HasTrack reports whether this format is one ParseTrack supports.
func (s *MediaSource) HasTrack() bool {
	switch s.format {
	case FormatISOBMFF, FormatHEIF, FormatMatroska:
		return true
	default:
		return false
	}
}

// Close closes the underlying reader if it implements io.Closer.
func (s *MediaSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// jpegExifSegment scans a JPEG's marker segments starting right after the
// SOI (which MediaSource already consumed as part of its detection
// prefix) for the APP1 "Exif\0\0"-prefixed segment, returning the absolute
// byte range of the TIFF body that follows the 6-byte Exif header.
func jpegExifSegment(l *bufferedLoader, jpegStart int64) (start, end int64, err error) {
	pos := jpegStart + 2 // past the SOI marker
	for {
		if err := l.advanceTo(pos); err != nil {
			return 0, 0, newFormatErrorf("%w: no exif segment found", ErrUnsupportedFormat)
		}
		marker, err := l.read2()
		if err != nil {
			return 0, 0, newFormatErrorf("%w: no exif segment found", ErrUnsupportedFormat)
		}
		if marker>>8 != 0xFF {
			return 0, 0, newFormatErrorf("%w: bad jpeg marker 0x%04x", ErrMalformedBox, marker)
		}
		if marker == 0xFFD9 || marker == 0xFFDA {
			return 0, 0, newFormatErrorf("%w: no exif segment before scan data", ErrUnsupportedFormat)
		}
		segLen, err := l.read2()
		if err != nil {
			return 0, 0, err
		}
		segStart := pos + 4
		segEnd := segStart + int64(segLen) - 2

		if marker == 0xFFE1 {
			hdr, err := l.loadRange(segStart, segStart+minI64(6, segEnd-segStart))
			if err == nil && bytes.HasPrefix(hdr.Bytes(), []byte("Exif\x00\x00")) {
				return segStart + 6, segEnd, nil
			}
		}
		pos = segEnd
	}
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
