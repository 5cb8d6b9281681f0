// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"fmt"
	"strconv"
	"strings"
)

// GPSInfo is a decoded geographic point: signed decimal degrees (positive
// north/east) and an optional altitude in meters above the reference
// ellipsoid (negative below it). It is the common shape produced by both
// the Exif GPS sub-IFD and a container's ISO-6709 location string, per
// spec.md §4.7's shared-formatter note.
type GPSInfo struct {
	Latitude  float64
	Longitude float64

	HasAltitude bool
	Altitude    float64
}

// degreesFromRationals combines a GPS tag's 3-element [degrees, minutes,
// seconds] rational array into signed decimal degrees, applying ref ("N",
// "S", "E", "W") as the sign.
func degreesFromRationals(dms []URational, ref string) (float64, error) {
	if len(dms) != 3 {
		return 0, &InvalidGPSError{Reason: fmt.Sprintf("expected 3 rationals, got %d", len(dms))}
	}
	deg := dms[0].Float64()
	minutes := dms[1].Float64()
	seconds := dms[2].Float64()
	if isUndefinedFloat(deg) || isUndefinedFloat(minutes) || isUndefinedFloat(seconds) {
		return 0, &InvalidGPSError{Reason: "non-finite degrees/minutes/seconds"}
	}
	value := deg + minutes/60 + seconds/3600
	switch strings.ToUpper(ref) {
	case "S", "W":
		value = -value
	case "N", "E", "":
	default:
		return 0, &InvalidGPSError{Reason: "unrecognized reference " + ref}
	}
	return value, nil
}

func isUndefinedFloat(f float64) bool {
	return f != f // NaN
}

// gpsInfoFromExif builds a GPSInfo from the GPS sub-IFD entries already
// materialized into an Exif map, following the GPSLatitude(Ref)/
// GPSLongitude(Ref)/GPSAltitude(Ref) tag family.
func gpsInfoFromExif(e *Exif) (GPSInfo, bool) {
	latV, ok1 := e.Get(TagGPSLatitude)
	lonV, ok2 := e.Get(TagGPSLongitude)
	if !ok1 || !ok2 {
		return GPSInfo{}, false
	}
	latRats, ok := latV.AsRationalArray()
	if !ok {
		return GPSInfo{}, false
	}
	lonRats, ok := lonV.AsRationalArray()
	if !ok {
		return GPSInfo{}, false
	}
	latRef, _ := e.Get(TagGPSLatitudeRef)
	lonRef, _ := e.Get(TagGPSLongitudeRef)

	lat, err := degreesFromRationals(latRats, latRef.AsString())
	if err != nil {
		return GPSInfo{}, false
	}
	lon, err := degreesFromRationals(lonRats, lonRef.AsString())
	if err != nil {
		return GPSInfo{}, false
	}

	info := GPSInfo{Latitude: lat, Longitude: lon}
	if altV, ok := e.Get(TagGPSAltitude); ok {
		if alt, ok := altV.AsFloat64(); ok {
			altRefV, _ := e.Get(TagGPSAltitudeRef)
			if b, ok := altRefV.AsU32(); ok && b == 1 {
				alt = -alt
			}
			info.HasAltitude = true
			info.Altitude = alt
		}
	}
	return info, true
}

// FormatISO6709 renders a GPSInfo as an ISO-6709 geographic point string,
// the form QuickTime's udta/©xyz box and Matroska's GEO_LATITUDE-style tags
// both store. Each component is written with its sign and the shortest
// decimal form that parses back to the same value; components are not
// zero-padded to fixed widths, so latitude 35.6762, longitude 139.6503 and
// altitude 45 render as "+35.6762+139.6503+45/".
func (g GPSInfo) FormatISO6709() string {
	var sb strings.Builder
	writeSignedFixed(&sb, g.Latitude)
	writeSignedFixed(&sb, g.Longitude)
	if g.HasAltitude {
		writeSignedFixed(&sb, g.Altitude)
	}
	sb.WriteByte('/')
	return sb.String()
}

func writeSignedFixed(sb *strings.Builder, v float64) {
	if v >= 0 {
		sb.WriteByte('+')
	} else {
		sb.WriteByte('-')
		v = -v
	}
	sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
}

// ParseISO6709 parses a "+DD.DDDD+DDD.DDDD[+AAA.AAA]/" geographic point
// string into a GPSInfo. It is deliberately permissive about the number of
// fractional digits, since real-world encoders vary.
func ParseISO6709(s string) (GPSInfo, error) {
	s = strings.TrimSuffix(s, "/")
	fields, err := splitSignedFields(s)
	if err != nil {
		return GPSInfo{}, &InvalidGPSError{Reason: err.Error()}
	}
	if len(fields) < 2 {
		return GPSInfo{}, &InvalidGPSError{Reason: "fewer than 2 signed fields"}
	}
	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return GPSInfo{}, &InvalidGPSError{Reason: "bad latitude: " + err.Error()}
	}
	lon, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return GPSInfo{}, &InvalidGPSError{Reason: "bad longitude: " + err.Error()}
	}
	info := GPSInfo{Latitude: lat, Longitude: lon}
	if len(fields) >= 3 {
		alt, err := strconv.ParseFloat(fields[2], 64)
		if err == nil {
			info.HasAltitude = true
			info.Altitude = alt
		}
	}
	return info, nil
}

// splitSignedFields splits a run of "+D+D+D" style fields (each beginning
// with + or -) without a separator, since ISO-6709 has none between fields.
func splitSignedFields(s string) ([]string, error) {
	var fields []string
	start := -1
	for i, c := range s {
		if c == '+' || c == '-' {
			if start >= 0 {
				fields = append(fields, s[start:i])
			}
			start = i
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("no signed fields found in %q", s)
	}
	fields = append(fields, s[start:])
	return fields, nil
}
