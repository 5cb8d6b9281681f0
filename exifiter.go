// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

// ParsedExifEntry is one decoded Exif/TIFF entry as produced by
// ExifIter.Next: a symbolic tag name (when known), the raw tag code, and
// the materialized value.
type ParsedExifEntry struct {
	Tag   ExifTag
	Code  uint16
	Value EntryValue
}

// ifdTask is one pending IFD to visit: its absolute offset, nesting depth,
// and whether it is the GPS sub-IFD (which uses a different tag-name
// table).
type ifdTask struct {
	offset   int64
	depth    int
	isGPSIFD bool
}

// ExifIter is a lazy cursor over every entry across IFD0, the sub-IFDs its
// pointer tags reference (Exif, GPS, and the Interoperability IFD the Exif
// IFD points to), and IFD0's next-IFD chain (IFD1). A sub-IFD is queued when
// its pointer entry is consumed and IFD1 once all of IFD0's entries are, so
// a typical file is visited as IFD0, Exif, GPS, IFD1, Interoperability.
// It materializes one entry per Next call; nothing is
// decoded until asked for. CloneAndRewind produces an independent cursor
// over the same already-loaded data, so a caller can make two passes (e.g.
// one to check for a tag's presence, one to extract it) without re-reading
// the source.
type ExifIter struct {
	reader *ifdReader
	header tiffHeader
	opts   Options

	pending  []ifdTask
	queue    []ifdEntryRaw
	queueGPS bool
	queueDepth int
	queueNext  int64 // next-IFD link of the queued IFD, pushed once its entries are consumed

	entryCount int
	err        error
}

// newExifIter starts an iterator at IFD0, given a Window containing the
// entire Exif/TIFF blob and the parsed header locating IFD0 within it.
func newExifIter(w Window, header tiffHeader, opts Options) *ExifIter {
	reader := newIfdReader(w, header.order, header.anchor, opts)
	return &ExifIter{
		reader:  reader,
		header:  header,
		opts:    opts,
		pending: []ifdTask{{offset: header.firstIFD, depth: 0}},
	}
}

// Next returns the next entry and true, or a zero value and false once
// every reachable IFD has been exhausted or an unrecoverable structural
// error occurred (retrievable via Err).
func (it *ExifIter) Next() (ParsedExifEntry, bool) {
	for {
		if len(it.queue) == 0 {
			if !it.advanceIFD() {
				return ParsedExifEntry{}, false
			}
			continue
		}

		e := it.queue[0]
		it.queue = it.queue[1:]
		isGPS := it.queueGPS

		switch e.tagCode {
		case tagExifIFD, tagGPSIFD, tagInteroperabilityIFD:
			off, ok := it.subIFDOffset(e)
			if ok {
				it.pending = append(it.pending, ifdTask{
					offset:   off,
					depth:    it.queueDepth + 1,
					isGPSIFD: e.tagCode == tagGPSIFD,
				})
			}
			continue
		}

		val, err := it.reader.materialize(e)
		if err != nil {
			it.opts.warnf()("skipping exif entry 0x%04x: %v", e.tagCode, err)
			continue
		}
		it.entryCount++
		if it.entryCount > it.opts.maxIfdEntriesOrDefault()*8 {
			it.err = newFormatErrorf("%w: too many total exif entries", ErrMalformedTiff)
			return ParsedExifEntry{}, false
		}
		return ParsedExifEntry{
			Tag:   ExifTag(exifFieldName(e.tagCode, isGPS)),
			Code:  e.tagCode,
			Value: val,
		}, true
	}
}

// subIFDOffset reads a sub-IFD pointer entry (LONG or SHORT) as an
// anchor-relative offset.
func (it *ExifIter) subIFDOffset(e ifdEntryRaw) (int64, bool) {
	v, err := it.reader.materialize(e)
	if err != nil {
		return 0, false
	}
	off, ok := v.AsU32()
	if !ok {
		return 0, false
	}
	return it.header.anchor + int64(off), true
}

// advanceIFD pops the next pending IFD task and loads its entries into the
// queue, chasing the next-IFD link (IFD0's sibling chain) by pushing it
// onto pending once the previous IFD's entries have all been consumed.
func (it *ExifIter) advanceIFD() bool {
	if it.queueNext != 0 {
		it.pending = append(it.pending, ifdTask{offset: it.queueNext, depth: 0})
		it.queueNext = 0
	}
	if len(it.pending) == 0 {
		return false
	}
	task := it.pending[0]
	it.pending = it.pending[1:]

	entries, next, err := it.reader.readIFD(task.offset, task.depth)
	if err != nil {
		it.opts.warnf()("skipping ifd at %d: %v", task.offset, err)
		return it.advanceIFD()
	}
	it.queue = entries
	it.queueGPS = task.isGPSIFD
	it.queueDepth = task.depth
	if next != 0 && task.depth == 0 {
		// Only IFD0's sibling chain (thumbnail IFD) is followed; sub-IFDs
		// referenced by pointer tags don't have a meaningful "next".
		it.queueNext = next
	}
	return true
}

// Err returns the error that stopped iteration early, if any.
func (it *ExifIter) Err() error {
	return it.err
}

// CloneAndRewind returns a new iterator over the same underlying Window,
// starting again from IFD0.
func (it *ExifIter) CloneAndRewind() *ExifIter {
	return newExifIter(it.reader.w, it.header, it.opts)
}

// Into drains the iterator into an immutable Exif container. On tag-code
// collision across IFDs (e.g. a GPS-IFD code colliding with an IFD0 code
// reused under a different meaning — spec.md's "first tag wins" rule),
// the first occurrence encountered in visitation order is kept.
func (it *ExifIter) Into() (*Exif, error) {
	byCode := make(map[uint16]EntryValue)
	byName := make(map[ExifTag]EntryValue)
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		if _, seen := byCode[entry.Code]; !seen {
			byCode[entry.Code] = entry.Value
			byName[entry.Tag] = entry.Value
		}
	}
	if it.err != nil {
		return nil, it.err
	}
	return &Exif{byCode: byCode, byName: byName}, nil
}

// Exif is an immutable, fully materialized view over one image's Exif/TIFF
// metadata, built by draining an ExifIter.
type Exif struct {
	byCode map[uint16]EntryValue
	byName map[ExifTag]EntryValue
}

// Get returns the value for a well-known tag by symbolic name.
func (e *Exif) Get(tag ExifTag) (EntryValue, bool) {
	v, ok := e.byName[tag]
	return v, ok
}

// GetByCode returns the value for a raw numeric tag code, including ones
// with no symbolic name in exifFields/exifFieldsGPS.
func (e *Exif) GetByCode(code uint16) (EntryValue, bool) {
	v, ok := e.byCode[code]
	return v, ok
}

// GPSInfo returns the decoded geographic point, if the GPS sub-IFD's
// latitude/longitude tags were present and well-formed.
func (e *Exif) GPSInfo() (GPSInfo, bool) {
	return gpsInfoFromExif(e)
}

// DateTimeOriginal returns the combined DateTimeOriginal/SubSecTimeOriginal/
// OffsetTimeOriginal value as an EntryValue (NaiveDateTime or
// TimeWithOffset), following spec.md's date/time combination rule.
func (e *Exif) DateTimeOriginal() (EntryValue, bool) {
	dt, ok := e.Get(TagDateTimeOriginal)
	if !ok {
		return EntryValue{}, false
	}
	subsec, _ := e.Get(TagSubSecTimeOriginal)
	offset, _ := e.Get(TagOffsetTimeOriginal)
	v, err := parseExifDateTime(dt.AsString(), subsec.AsString(), offset.AsString())
	if err != nil {
		return EntryValue{}, false
	}
	return v, true
}
