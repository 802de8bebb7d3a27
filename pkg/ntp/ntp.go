// ABOUTME: NTP fixed-point timestamps for AirTunes timing and sync packets
// ABOUTME: Converts wall-clock time into the 64-bit seconds.fraction format
package ntp

import (
	"encoding/binary"
	"time"
)

// epochOffset is the number of seconds between 1900-01-01 and 1970-01-01
const epochOffset = 2208988800

// Timestamp is a 64-bit NTP time: seconds since 1900 in the high word,
// binary fraction of a second in the low word.
type Timestamp uint64

// FromTime converts a wall-clock time to an NTP timestamp
func FromTime(t time.Time) Timestamp {
	secs := uint64(t.Unix()) + epochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return Timestamp(secs<<32 | frac)
}

// Now returns the current time as an NTP timestamp
func Now() Timestamp {
	return FromTime(time.Now())
}

// Seconds returns the whole-second part
func (ts Timestamp) Seconds() uint32 {
	return uint32(ts >> 32)
}

// Fraction returns the fractional part in units of 2^-32 seconds
func (ts Timestamp) Fraction() uint32 {
	return uint32(ts)
}

// Time converts back to wall-clock time
func (ts Timestamp) Time() time.Time {
	secs := int64(ts.Seconds()) - epochOffset
	nanos := (uint64(ts.Fraction()) * uint64(time.Second)) >> 32
	return time.Unix(secs, int64(nanos))
}

// Put writes the timestamp big-endian into the first 8 bytes of b
func (ts Timestamp) Put(b []byte) {
	binary.BigEndian.PutUint64(b, uint64(ts))
}

// SystemClock samples the local wall clock
type SystemClock struct{}

// Now implements the clock sample used in timing replies and sync packets
func (SystemClock) Now() Timestamp {
	return Now()
}
