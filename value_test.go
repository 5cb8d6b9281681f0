// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"math"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestEntryValueAsString(t *testing.T) {
	c := qt.New(t)

	c.Assert(TextValue("hello").AsString(), qt.Equals, "hello")
	c.Assert(U32Value(42).AsString(), qt.Equals, "42")
	c.Assert(I32Value(-7).AsString(), qt.Equals, "-7")
	c.Assert(U8ArrayValue([]byte("ASCII\x00\x00")).AsString(), qt.Equals, "ASCII")
	c.Assert(
		URationalArrayValue([]URational{{1, 2}, {3, 1}}).AsString(),
		qt.Equals, "1/2 3",
	)
}

func TestEntryValueAsFloat64(t *testing.T) {
	c := qt.New(t)

	f, ok := F64Value(3.5).AsFloat64()
	c.Assert(ok, qt.IsTrue)
	c.Assert(f, qt.Equals, 3.5)

	f, ok = URationalArrayValue([]URational{{1, 4}}).AsFloat64()
	c.Assert(ok, qt.IsTrue)
	c.Assert(f, qt.Equals, 0.25)

	f, ok = URationalArrayValue([]URational{{1, 0}}).AsFloat64()
	c.Assert(ok, qt.IsTrue)
	c.Assert(math.IsNaN(f), qt.IsTrue)

	_, ok = TextValue("nope").AsFloat64()
	c.Assert(ok, qt.IsFalse)
}

func TestEntryValueAsU32(t *testing.T) {
	c := qt.New(t)

	v, ok := U16Value(10).AsU32()
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, uint32(10))

	_, ok = I16Value(-1).AsU32()
	c.Assert(ok, qt.IsFalse)
}

func TestEntryValueAsTime(t *testing.T) {
	c := qt.New(t)

	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v := NaiveDateTimeValue(want)
	got, ok := v.AsTime()
	c.Assert(ok, qt.IsTrue)
	c.Assert(got.Equal(want), qt.IsTrue)

	_, ok = U32Value(1).AsTime()
	c.Assert(ok, qt.IsFalse)
}

func TestURationalFloat64(t *testing.T) {
	c := qt.New(t)

	c.Assert(URational{Num: 1, Den: 2}.Float64(), qt.Equals, 0.5)
	c.Assert(math.IsNaN(URational{Num: 1, Den: 0}.Float64()), qt.IsTrue)
	c.Assert(IRational{Num: -1, Den: 2}.Float64(), qt.Equals, -0.5)
}

func TestPrintableString(t *testing.T) {
	c := qt.New(t)

	c.Assert(printableString("  Hello, World!  "), qt.Equals, "Hello, World!")
	c.Assert(printableString("Hello\x00World"), qt.Equals, "HelloWorld")
}

func TestTrimBytesNulls(t *testing.T) {
	c := qt.New(t)

	c.Assert(string(trimBytesNulls([]byte("\x00\x00abc\x00"))), qt.Equals, "abc")
	c.Assert(trimBytesNulls([]byte("\x00\x00")), qt.IsNil)
}

func BenchmarkPrintableString(b *testing.B) {
	runBench := func(b *testing.B, name, s string) {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = printableString(s)
			}
		})
	}

	runBench(b, "ASCII", "Hello, World!")
	runBench(b, "ASCII with whitespace", "   Hello, World!   ")
	runBench(b, "UTF-8", "Hello, 世界!")
	runBench(b, "Unprintable", "Hello, \x00World!")
}
