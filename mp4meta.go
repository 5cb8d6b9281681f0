// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"encoding/binary"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// parseISOBMFFTrack walks an ISOBMFF/HEIF file's top-level boxes looking
// for moov/mvhd, moov/trak/tkhd, moov/udta/©xyz and udta/auth, and
// moov/meta/keys+ilst, combining whatever is found into a TrackInfo.
// HEIF files additionally carry moov-less meta/iprp dimension/orientation
// data, handled by heifItemProperties.
func parseISOBMFFTrack(l *bufferedLoader, format Format, opts Options) (*TrackInfo, error) {
	info := newTrackInfo()
	root := newBoxWalker(l, 0, 1<<62, 0)

	for {
		h, ok, err := root.next()
		if err != nil {
			if IsFormatError(err) {
				break
			}
			return nil, err
		}
		if !ok {
			break
		}
		switch h.typeString() {
		case "moov":
			if err := walkMoov(root.child(h), info, opts); err != nil {
				opts.warnf()("moov: %v", err)
			}
		case "meta":
			if format == FormatHEIF {
				if err := heifItemProperties(root.child(h), info, opts); err != nil {
					opts.warnf()("meta: %v", err)
				}
			}
		default:
			if err := root.skip(h); err != nil {
				return info, nil
			}
		}
	}
	return info, nil
}

func walkMoov(w *boxWalker, info *TrackInfo, opts Options) error {
	for {
		h, ok, err := w.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch h.typeString() {
		case "mvhd":
			win, err := w.load(h)
			if err == nil {
				parseMvhd(win.Bytes(), info)
			}
		case "trak":
			walkTrak(w.child(h), info, opts)
		case "udta":
			walkUdta(w.child(h), info, opts)
		case "meta":
			if _, err := walkMetaKeysIlst(w.child(h), info, opts); err != nil {
				opts.warnf()("meta/keys+ilst: %v", err)
			}
		default:
			w.skip(h)
		}
	}
}

func parseMvhd(b []byte, info *TrackInfo) {
	version, _, rest := fullBoxVersionFlags(b)
	var created, modified uint32
	if version == 1 {
		if len(rest) < 28 {
			return
		}
		created = uint32(binary.BigEndian.Uint64(rest[0:8]))
		modified = uint32(binary.BigEndian.Uint64(rest[8:16]))
	} else {
		if len(rest) < 16 {
			return
		}
		created = binary.BigEndian.Uint32(rest[0:4])
		modified = binary.BigEndian.Uint32(rest[4:8])
	}
	if created != 0 {
		info.set(TagCreationTime, NaiveDateTimeValue(macTime(created)))
	}
	if modified != 0 {
		info.set(TagModifiedTime, NaiveDateTimeValue(macTime(modified)))
	}
}

func walkTrak(w *boxWalker, info *TrackInfo, opts Options) {
	for {
		h, ok, err := w.next()
		if err != nil || !ok {
			return
		}
		if h.is("tkhd") {
			win, err := w.load(h)
			if err == nil {
				parseTkhd(win.Bytes(), info)
			}
			continue
		}
		w.skip(h)
	}
}

func parseTkhd(b []byte, info *TrackInfo) {
	version, _, rest := fullBoxVersionFlags(b)
	var off int
	if version == 1 {
		off = 8 + 8 + 4 + 4 // created, modified, track id, reserved
	} else {
		off = 4 + 4 + 4 + 4
	}
	// Skip duration, reserved(2x4), layer+alternate group, volume+reserved,
	// matrix(9x4) to reach width/height, both fixed-point 16.16.
	if version == 1 {
		off += 8 // duration
	} else {
		off += 4
	}
	off += 8 /* reserved */ + 2 + 2 /* layer, alt group */ + 2 + 2 /* volume, reserved */
	off += 9 * 4 // matrix
	if len(rest) < off+8 {
		return
	}
	width := binary.BigEndian.Uint32(rest[off : off+4])
	height := binary.BigEndian.Uint32(rest[off+4 : off+8])
	if w := width >> 16; w != 0 {
		info.set(TagTrackImageWidth, U32Value(w))
	}
	if h := height >> 16; h != 0 {
		info.set(TagTrackImageHeight, U32Value(h))
	}
}

func walkUdta(w *boxWalker, info *TrackInfo, opts Options) {
	for {
		h, ok, err := w.next()
		if err != nil || !ok {
			return
		}
		switch h.typeString() {
		case "\xa9xyz": // ©xyz
			win, err := w.load(h)
			if err == nil {
				if s, ok := decodeQuickTimeString(win.Bytes()); ok {
					// Stored verbatim; ParseISO6709 is for on-demand
					// consumption via GetGPSInfo, not re-serialization.
					info.set(TagGpsIso6709, TextValue(s))
				}
			}
		case "auth":
			win, err := w.load(h)
			if err == nil {
				if s, ok := decodeQuickTimeString(win.Bytes()); ok {
					info.set(TagAuthor, TextValue(s))
				}
			}
		default:
			w.skip(h)
		}
	}
}

// decodeQuickTimeString decodes a QuickTime user-data string box body:
// a 2-byte big-endian length, a 2-byte language code (ISO-639-2/T packed,
// or 0x55C4 for "und"/unspecified), then the text. The language code is not
// used to pick the encoding: a payload of only ASCII bytes is returned as
// is, and any other payload is decoded as UTF-16BE, matching what
// real-world encoders emit for ©xyz.
func decodeQuickTimeString(b []byte) (string, bool) {
	if len(b) < 4 {
		return "", false
	}
	strLen := int(binary.BigEndian.Uint16(b[0:2]))
	// lang code at b[2:4] intentionally ignored beyond bounds validation.
	if 4+strLen > len(b) {
		strLen = len(b) - 4
	}
	payload := b[4 : 4+strLen]
	if looksASCII(payload) {
		return string(payload), true
	}
	out, _, err := transform.Bytes(unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder(), payload)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func looksASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// walkMetaKeysIlst reads Apple's moov/meta/keys + moov/meta/ilst key/value
// metadata dictionary. keys is a 1-indexed list of reverse-DNS key names
// ("com.apple.quicktime.make"); ilst entries reference them by index.
func walkMetaKeysIlst(w *boxWalker, info *TrackInfo, opts Options) ([][]byte, error) {
	var keys [][]byte
	var ilst *boxHeader
	for {
		h, ok, err := w.next()
		if err != nil {
			return keys, err
		}
		if !ok {
			break
		}
		switch h.typeString() {
		case "keys":
			win, err := w.load(h)
			if err == nil {
				keys = parseKeys(win.Bytes())
			}
		case "ilst":
			hh := h
			ilst = &hh
		default:
			w.skip(h)
		}
	}
	if ilst != nil && len(keys) > 0 {
		win, err := w.load(*ilst)
		if err == nil {
			applyIlst(win.Bytes(), keys, info)
		}
	}
	return keys, nil
}

func parseKeys(b []byte) [][]byte {
	if len(b) < 8 {
		return nil
	}
	count := binary.BigEndian.Uint32(b[4:8])
	var keys [][]byte
	pos := 8
	for i := uint32(0); i < count && pos+8 <= len(b); i++ {
		size := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		if size < 8 || pos+size > len(b) {
			break
		}
		// b[pos+4:pos+8] is the key namespace (almost always "mdta");
		// only the key_value bytes form the reverse-DNS name that
		// applyQuickTimeKey switches on.
		value := b[pos+8 : pos+size]
		keys = append(keys, append([]byte(nil), value...))
		pos += size
	}
	return keys
}

func applyIlst(b []byte, keys [][]byte, info *TrackInfo) {
	pos := 0
	for pos+8 <= len(b) {
		size := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		if size < 8 || pos+size > len(b) {
			break
		}
		indexBytes := b[pos+4 : pos+8]
		idx := int(binary.BigEndian.Uint32(indexBytes))
		body := b[pos+8 : pos+size]
		if idx >= 1 && idx <= len(keys) {
			if s, ok := extractIlstDataString(body); ok {
				applyQuickTimeKey(string(keys[idx-1]), s, info)
			}
		}
		pos += size
	}
}

// extractIlstDataString reads the nested "data" atom inside one ilst
// entry: a 4-byte type indicator (1 == UTF-8), 4-byte locale, then the
// string payload.
func extractIlstDataString(b []byte) (string, bool) {
	pos := 0
	for pos+8 <= len(b) {
		size := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		typ := string(b[pos+4 : pos+8])
		if size < 8 || pos+size > len(b) {
			break
		}
		if typ == "data" && size >= 16 {
			flags := binary.BigEndian.Uint32(b[pos+8 : pos+12])
			payload := b[pos+16 : pos+size]
			if flags == 1 {
				return string(payload), true
			}
			return "", false
		}
		pos += size
	}
	return "", false
}

func applyQuickTimeKey(key, value string, info *TrackInfo) {
	switch key {
	case "com.apple.quicktime.title":
		info.set(TagTitle, TextValue(value))
	case "com.apple.quicktime.author", "com.apple.quicktime.creator":
		info.set(TagAuthor, TextValue(value))
	case "com.apple.quicktime.make":
		info.set(TagTrackMake, TextValue(value))
	case "com.apple.quicktime.model":
		info.set(TagTrackModel, TextValue(value))
	case "com.apple.quicktime.software":
		info.set(TagTrackSoftware, TextValue(value))
	case "com.apple.quicktime.creationdate":
		if t, ok := parseQuickTimeCreationDate(value); ok {
			info.set(TagCreationTime, t)
		}
	case "com.apple.quicktime.location.iso6709":
		// Store the raw point-notation string as-is; GetGPSInfo parses it
		// on demand. Round-tripping through ParseISO6709/FormatISO6709
		// here would reformat away the file's exact zero-padding.
		info.set(TagGpsIso6709, TextValue(value))
	}
}

// parseQuickTimeCreationDate parses the value of the
// com.apple.quicktime.creationdate key, which encoders emit as an ISO-8601
// timestamp with a numeric zone offset ("2019-02-01T14:41:04+0800"),
// falling back to UTC ("Z") form.
func parseQuickTimeCreationDate(value string) (EntryValue, bool) {
	if t, err := time.Parse("2006-01-02T15:04:05-0700", value); err == nil {
		return TimeWithOffsetValue(t), true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return TimeWithOffsetValue(t), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
		return NaiveDateTimeValue(t), true
	}
	return EntryValue{}, false
}
