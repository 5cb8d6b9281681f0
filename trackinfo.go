// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import "time"

// TrackInfoTag names a well-known container-level metadata field.
type TrackInfoTag string

const (
	TagTitle        TrackInfoTag = "Title"
	TagDuration     TrackInfoTag = "Duration"
	TagCreationTime TrackInfoTag = "CreationTime"
	TagModifiedTime TrackInfoTag = "ModifiedTime"
	TagTrackImageWidth  TrackInfoTag = "ImageWidth"
	TagTrackImageHeight TrackInfoTag = "ImageHeight"
	TagOrientationDeg   TrackInfoTag = "Orientation"
	TagAuthor           TrackInfoTag = "Author"
	TagGpsIso6709       TrackInfoTag = "GpsIso6709"
	TagTrackMake        TrackInfoTag = "Make"
	TagTrackModel       TrackInfoTag = "Model"
	TagTrackSoftware    TrackInfoTag = "Software"
)

// TrackInfo is an immutable, fully materialized view over one container's
// track-level metadata, built by the ISOBMFF or Matroska walker.
type TrackInfo struct {
	values map[TrackInfoTag]EntryValue
}

func newTrackInfo() *TrackInfo {
	return &TrackInfo{values: make(map[TrackInfoTag]EntryValue)}
}

func (t *TrackInfo) set(tag TrackInfoTag, v EntryValue) {
	if _, exists := t.values[tag]; exists {
		return // first writer wins, matching Exif's first-tag-wins rule
	}
	t.values[tag] = v
}

// Get returns the value for a well-known track tag.
func (t *TrackInfo) Get(tag TrackInfoTag) (EntryValue, bool) {
	v, ok := t.values[tag]
	return v, ok
}

// GetGPSInfo parses the GpsIso6709 field, if present, back into a GPSInfo,
// sharing the same ISO-6709 parser the Exif GPS path formats with.
func (t *TrackInfo) GetGPSInfo() (GPSInfo, bool) {
	v, ok := t.Get(TagGpsIso6709)
	if !ok {
		return GPSInfo{}, false
	}
	info, err := ParseISO6709(v.AsString())
	if err != nil {
		return GPSInfo{}, false
	}
	return info, true
}

// macEpoch is the ISOBMFF/QuickTime "seconds since midnight, 1 Jan 1904
// UTC" epoch used by mvhd/tkhd creation/modification timestamps.
var macEpoch = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)

func macTime(seconds uint32) time.Time {
	return macEpoch.Add(time.Duration(seconds) * time.Second)
}
