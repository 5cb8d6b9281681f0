// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import "encoding/binary"

// heifItem is one entry from iinf: an item id and its 4-byte type code
// ("Exif", "hvc1", "grid", ...).
type heifItem struct {
	id  uint32
	typ [4]byte
}

// heifLocation is one iloc entry: the item id and the absolute byte range
// of its data, resolved against the file (construction_method 0 only, per
// spec.md §4.3 — any other construction method is unsupported).
type heifLocation struct {
	id         uint32
	offset     int64
	length     int64
	unsupported bool
}

// heifMeta accumulates what a HEIF "meta" box's children reveal: the item
// list, their locations, the primary item id, and (from ipco/ipma/ispe/
// irot) the primary item's pixel dimensions and rotation.
type heifMeta struct {
	items     []heifItem
	locations map[uint32]heifLocation
	primaryID uint32

	primaryWidth, primaryHeight uint32
	rotationQuarterTurns        uint8
}

// parseHeifMeta walks a "meta" box's children (hdlr, iinf, iloc, pitm,
// iprp) and returns the accumulated view.
func parseHeifMeta(w *boxWalker, opts Options) (*heifMeta, error) {
	m := &heifMeta{locations: make(map[uint32]heifLocation)}
	// meta is a full box: its children start after the 4-byte version/flags.
	w.pos += 4
	for {
		h, ok, err := w.next()
		if err != nil {
			return m, err
		}
		if !ok {
			return m, nil
		}
		switch h.typeString() {
		case "iinf":
			win, err := w.load(h)
			if err == nil {
				m.items = parseIinf(win.Bytes())
			}
		case "iloc":
			win, err := w.load(h)
			if err == nil {
				m.locations = parseIloc(win.Bytes())
			}
		case "pitm":
			win, err := w.load(h)
			if err == nil {
				m.primaryID = parsePitm(win.Bytes())
			}
		case "iprp":
			parseIprp(w.child(h), m, opts)
		default:
			w.skip(h)
		}
	}
}

func parseIinf(b []byte) []heifItem {
	if len(b) < 6 {
		return nil
	}
	version, _, rest := fullBoxVersionFlags(b)
	var count int
	if version == 0 {
		if len(rest) < 2 {
			return nil
		}
		count = int(binary.BigEndian.Uint16(rest[0:2]))
		rest = rest[2:]
	} else {
		if len(rest) < 4 {
			return nil
		}
		count = int(binary.BigEndian.Uint32(rest[0:4]))
		rest = rest[4:]
	}
	var items []heifItem
	pos := 0
	for i := 0; i < count && pos+8 <= len(rest); i++ {
		size := int(binary.BigEndian.Uint32(rest[pos : pos+4]))
		if size < 8 || pos+size > len(rest) {
			break
		}
		infeVer, _, infeRest := fullBoxVersionFlags(rest[pos+8 : pos+size])
		if infeVer >= 2 && len(infeRest) >= 6 {
			var id uint32
			if infeVer == 2 {
				id = uint32(binary.BigEndian.Uint16(infeRest[0:2]))
				infeRest = infeRest[4:]
			} else {
				id = binary.BigEndian.Uint32(infeRest[0:4])
				infeRest = infeRest[6:]
			}
			var typ [4]byte
			if len(infeRest) >= 4 {
				copy(typ[:], infeRest[0:4])
			}
			items = append(items, heifItem{id: id, typ: typ})
		}
		pos += size
	}
	return items
}

func parseIloc(b []byte) map[uint32]heifLocation {
	locs := make(map[uint32]heifLocation)
	version, _, rest := fullBoxVersionFlags(b)
	if len(rest) < 2 {
		return locs
	}
	sizes := rest[0]
	offsetSize := int(sizes >> 4)
	lengthSize := int(sizes & 0xF)
	baseOffsetSize := int(rest[1] >> 4)
	indexSize := 0
	pos := 2
	if version >= 1 {
		if len(rest) < 3 {
			return locs
		}
		indexSize = int(rest[1] & 0xF)
		pos = 2
	}

	var itemCount int
	if version < 2 {
		if pos+2 > len(rest) {
			return locs
		}
		itemCount = int(binary.BigEndian.Uint16(rest[pos : pos+2]))
		pos += 2
	} else {
		if pos+4 > len(rest) {
			return locs
		}
		itemCount = int(binary.BigEndian.Uint32(rest[pos : pos+4]))
		pos += 4
	}

	readUint := func(n int) (uint64, bool) {
		if n == 0 {
			return 0, true
		}
		if pos+n > len(rest) {
			return 0, false
		}
		var v uint64
		for i := 0; i < n; i++ {
			v = v<<8 | uint64(rest[pos+i])
		}
		pos += n
		return v, true
	}

	for i := 0; i < itemCount; i++ {
		var itemID uint32
		if version < 2 {
			if pos+2 > len(rest) {
				break
			}
			itemID = uint32(binary.BigEndian.Uint16(rest[pos : pos+2]))
			pos += 2
		} else {
			if pos+4 > len(rest) {
				break
			}
			itemID = binary.BigEndian.Uint32(rest[pos : pos+4])
			pos += 4
		}
		constructionMethod := 0
		if version >= 1 {
			if pos+2 > len(rest) {
				break
			}
			constructionMethod = int(binary.BigEndian.Uint16(rest[pos:pos+2]) & 0xF)
			pos += 2
		}
		if pos+2 > len(rest) {
			break
		}
		pos += 2 // data_reference_index
		baseOffset, ok := readUint(baseOffsetSize)
		if !ok {
			break
		}
		if pos+2 > len(rest) {
			break
		}
		extentCount := int(binary.BigEndian.Uint16(rest[pos : pos+2]))
		pos += 2
		var firstOffset, firstLength uint64
		for e := 0; e < extentCount; e++ {
			if version >= 1 {
				if _, ok := readUint(indexSize); !ok {
					break
				}
			}
			off, ok1 := readUint(offsetSize)
			ln, ok2 := readUint(lengthSize)
			if !ok1 || !ok2 {
				break
			}
			if e == 0 {
				firstOffset, firstLength = off, ln
			}
		}
		locs[itemID] = heifLocation{
			id:          itemID,
			offset:      int64(baseOffset + firstOffset),
			length:      int64(firstLength),
			unsupported: constructionMethod != 0,
		}
	}
	return locs
}

func parsePitm(b []byte) uint32 {
	version, _, rest := fullBoxVersionFlags(b)
	if version == 0 {
		if len(rest) < 2 {
			return 0
		}
		return uint32(binary.BigEndian.Uint16(rest[0:2]))
	}
	if len(rest) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(rest[0:4])
}

func parseIprp(w *boxWalker, m *heifMeta, opts Options) {
	var props []func(*heifMeta)
	var assoc map[uint32][]int
	for {
		h, ok, err := w.next()
		if err != nil || !ok {
			break
		}
		switch h.typeString() {
		case "ipco":
			win, err := w.load(h)
			if err == nil {
				props = parseIpco(win.Bytes())
			}
		case "ipma":
			win, err := w.load(h)
			if err == nil {
				assoc = parseIpma(win.Bytes())
			}
		default:
			w.skip(h)
		}
	}
	indices, ok := assoc[m.primaryID]
	if !ok {
		return
	}
	for _, idx := range indices {
		if idx >= 1 && idx <= len(props) {
			props[idx-1](m)
		}
	}
}

// parseIpco returns one applicator closure per property box, in order, so
// ipma's 1-based property_index can select the right one.
func parseIpco(b []byte) []func(*heifMeta) {
	var props []func(*heifMeta)
	pos := 0
	for pos+8 <= len(b) {
		size := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		typ := string(b[pos+4 : pos+8])
		if size < 8 || pos+size > len(b) {
			break
		}
		body := b[pos+8 : pos+size]
		switch typ {
		case "ispe":
			if len(body) >= 12 {
				w := binary.BigEndian.Uint32(body[4:8])
				h := binary.BigEndian.Uint32(body[8:12])
				props = append(props, func(m *heifMeta) {
					m.primaryWidth, m.primaryHeight = w, h
				})
			} else {
				props = append(props, func(*heifMeta) {})
			}
		case "irot":
			if len(body) >= 1 {
				turns := body[0] & 0x3
				props = append(props, func(m *heifMeta) {
					m.rotationQuarterTurns = turns
				})
			} else {
				props = append(props, func(*heifMeta) {})
			}
		default:
			props = append(props, func(*heifMeta) {})
		}
		pos += size
	}
	return props
}

func parseIpma(b []byte) map[uint32][]int {
	version, flags, rest := fullBoxVersionFlags(b)
	assoc := make(map[uint32][]int)
	if len(rest) < 4 {
		return assoc
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	pos := 4
	for i := uint32(0); i < count; i++ {
		var itemID uint32
		if version == 0 {
			if pos+2 > len(rest) {
				break
			}
			itemID = uint32(binary.BigEndian.Uint16(rest[pos : pos+2]))
			pos += 2
		} else {
			if pos+4 > len(rest) {
				break
			}
			itemID = binary.BigEndian.Uint32(rest[pos : pos+4])
			pos += 4
		}
		if pos+1 > len(rest) {
			break
		}
		assocCount := int(rest[pos])
		pos++
		var indices []int
		for a := 0; a < assocCount; a++ {
			if flags&1 != 0 {
				if pos+2 > len(rest) {
					break
				}
				idx := int(binary.BigEndian.Uint16(rest[pos:pos+2]) & 0x7FFF)
				pos += 2
				indices = append(indices, idx)
			} else {
				if pos+1 > len(rest) {
					break
				}
				idx := int(rest[pos] & 0x7F)
				pos++
				indices = append(indices, idx)
			}
		}
		assoc[itemID] = indices
	}
	return assoc
}

// heifExifItemRange resolves the "Exif" item's data range within the file,
// stripping the 4-byte "exif tiff header offset" prefix every HEIF Exif
// item payload carries ahead of the actual TIFF bytes.
func heifExifItemRange(m *heifMeta, l *bufferedLoader) (int64, int64, error) {
	var exifID uint32
	found := false
	for _, it := range m.items {
		if it.typ == [4]byte{'E', 'x', 'i', 'f'} {
			exifID = it.id
			found = true
			break
		}
	}
	if !found {
		return 0, 0, ErrUnsupportedFormat
	}
	loc, ok := m.locations[exifID]
	if !ok {
		return 0, 0, ErrUnsupportedFormat
	}
	if loc.unsupported {
		return 0, 0, newFormatErrorf("%w: iloc construction_method other than file-offset", ErrUnsupportedFormat)
	}
	if loc.length < 4 {
		return 0, 0, newFormatErrorf("%w: exif item too short", ErrMalformedBox)
	}
	prefixWin, err := l.loadRange(loc.offset, loc.offset+4)
	if err != nil {
		return 0, 0, err
	}
	skip := int64(binary.BigEndian.Uint32(prefixWin.Bytes()))
	start := loc.offset + 4 + skip
	end := loc.offset + loc.length
	if start > end {
		return 0, 0, newFormatErrorf("%w: exif item offset prefix out of range", ErrMalformedBox)
	}
	return start, end, nil
}

func heifItemProperties(w *boxWalker, info *TrackInfo, opts Options) error {
	m, err := parseHeifMeta(w, opts)
	if err != nil {
		return err
	}
	if m.primaryWidth != 0 {
		info.set(TagTrackImageWidth, U32Value(m.primaryWidth))
	}
	if m.primaryHeight != 0 {
		info.set(TagTrackImageHeight, U32Value(m.primaryHeight))
	}
	if m.rotationQuarterTurns != 0 {
		info.set(TagOrientationDeg, U32Value(uint32(m.rotationQuarterTurns)*90))
	}
	return nil
}
