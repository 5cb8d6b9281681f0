// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"encoding/binary"
	"math"
	"time"
)

// parseMatroskaTrack walks a Matroska/WebM file's Segment for Info, the
// first video TrackEntry, and Tags, combining whatever is found into a
// TrackInfo. Info/TrackEntry values win over a same-purpose Tags fallback.
func parseMatroskaTrack(l *bufferedLoader, opts Options) (*TrackInfo, error) {
	info := newTrackInfo()
	root := newEbmlWalker(l, 0, 1<<62, 0)

	// Skip the EBML header element, then find Segment.
	for {
		e, ok, err := root.next()
		if err != nil {
			return info, nil
		}
		if !ok {
			return info, nil
		}
		if e.id == ebmlIDSegment {
			if err := walkSegment(root.child(e), info, opts); err != nil {
				opts.warnf()("segment: %v", err)
			}
			return info, nil
		}
		root.skip(e)
	}
}

func walkSegment(w *ebmlWalker, info *TrackInfo, opts Options) error {
	var timecodeScale uint64 = 1_000_000 // default: ns per tick is 1ms
	for {
		e, ok, err := w.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch e.id {
		case ebmlIDInfo:
			win, err := w.load(e)
			if err == nil {
				timecodeScale = parseInfo(win.Bytes(), info, timecodeScale)
			}
		case ebmlIDTracks:
			win, err := w.load(e)
			if err == nil {
				parseTracks(win.Bytes(), info)
			}
		case ebmlIDTags:
			win, err := w.load(e)
			if err == nil {
				parseTags(win.Bytes(), info)
			}
		default:
			w.skip(e)
		}
	}
}

func parseInfo(b []byte, info *TrackInfo, defaultScale uint64) uint64 {
	scale := defaultScale
	var durationTicks float64
	haveDuration := false
	forEachChildElement(b, func(id uint32, body []byte) {
		switch id {
		case ebmlIDTimecodeScale:
			scale = bigEndianUint(body)
		case ebmlIDTitle:
			info.set(TagTitle, TextValue(string(body)))
		case ebmlIDDuration:
			durationTicks = decodeEbmlFloat(body)
			haveDuration = true
		case ebmlIDDateUTC:
			// Matroska epoch is 2001-01-01T00:00:00 UTC, nanoseconds.
			ns := int64(bigEndianUint(body))
			t := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(ns))
			info.set(TagCreationTime, NaiveDateTimeValue(t))
		}
	})
	if haveDuration {
		seconds := durationTicks * float64(scale) / 1e9
		info.set(TagDuration, F64Value(seconds))
	}
	return scale
}

func parseTracks(b []byte, info *TrackInfo) {
	forEachChildElement(b, func(id uint32, body []byte) {
		if id != ebmlIDTrackEntry {
			return
		}
		var trackType uint64
		forEachChildElement(body, func(cid uint32, cbody []byte) {
			switch cid {
			case ebmlIDTrackType:
				trackType = bigEndianUint(cbody)
			case ebmlIDVideo:
				if trackType == 1 { // video
					forEachChildElement(cbody, func(vid uint32, vbody []byte) {
						switch vid {
						case ebmlIDPixelWidth:
							info.set(TagTrackImageWidth, U32Value(uint32(bigEndianUint(vbody))))
						case ebmlIDPixelHeight:
							info.set(TagTrackImageHeight, U32Value(uint32(bigEndianUint(vbody))))
						}
					})
				}
			}
		})
	})
}

func parseTags(b []byte, info *TrackInfo) {
	forEachChildElement(b, func(id uint32, body []byte) {
		if id != ebmlIDTag {
			return
		}
		forEachChildElement(body, func(cid uint32, cbody []byte) {
			if cid != ebmlIDSimpleTag {
				return
			}
			var name, value string
			forEachChildElement(cbody, func(sid uint32, sbody []byte) {
				switch sid {
				case ebmlIDTagName:
					name = string(sbody)
				case ebmlIDTagString:
					value = string(sbody)
				}
			})
			switch name {
			case "ARTIST", "AUTHOR":
				if _, ok := info.Get(TagAuthor); !ok {
					info.set(TagAuthor, TextValue(value))
				}
			case "DATE_RECORDED":
				if _, ok := info.Get(TagCreationTime); !ok {
					if t, err := time.Parse("2006-01-02", value); err == nil {
						info.set(TagCreationTime, NaiveDateTimeValue(t))
					}
				}
			}
		})
	})
}

// forEachChildElement walks b as a flat sequence of EBML elements (ID +
// data-size VINT + body) and calls fn for each. Used for elements small
// enough to already be fully buffered (Info, TrackEntry, Tags) where a
// plain byte-slice walk is simpler than driving the loader-backed
// ebmlWalker again.
func forEachChildElement(b []byte, fn func(id uint32, body []byte)) {
	pos := 0
	for pos < len(b) {
		idLen := vintLength(b[pos])
		if idLen == 0 || pos+idLen > len(b) {
			return
		}
		id := uint32(b[pos])
		for i := 1; i < idLen; i++ {
			id = id<<8 | uint32(b[pos+i])
		}
		pos += idLen

		if pos >= len(b) {
			return
		}
		size, sizeLen := parseVInt(b[pos:])
		if sizeLen == 0 {
			return
		}
		pos += sizeLen
		if pos+int(size) > len(b) {
			return
		}
		fn(id, b[pos:pos+int(size)])
		pos += int(size)
	}
}

func bigEndianUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// decodeEbmlFloat decodes an EBML Float element, which is either 4 or 8
// bytes of IEEE-754, big-endian.
func decodeEbmlFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	default:
		return 0
	}
}
