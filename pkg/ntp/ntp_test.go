// ABOUTME: Tests for NTP timestamp conversion
// ABOUTME: Tests epoch offset, fraction precision and byte layout
package ntp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromTimeUnixEpoch(t *testing.T) {
	ts := FromTime(time.Unix(0, 0))
	assert.Equal(t, uint32(epochOffset), ts.Seconds())
	assert.Equal(t, uint32(0), ts.Fraction())
}

func TestFromTimeHalfSecond(t *testing.T) {
	ts := FromTime(time.Unix(10, int64(500*time.Millisecond)))
	assert.Equal(t, uint32(epochOffset+10), ts.Seconds())
	assert.Equal(t, uint32(1<<31), ts.Fraction())
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	back := FromTime(now).Time()

	diff := back.Sub(now)
	if diff < 0 {
		diff = -diff
	}
	assert.Less(t, diff, time.Microsecond)
}

func TestPut(t *testing.T) {
	ts := Timestamp(0x0102030405060708)
	b := make([]byte, 8)
	ts.Put(b)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b)
}

func TestSystemClockMonotonicEnough(t *testing.T) {
	var c SystemClock
	a := c.Now()
	b := c.Now()
	assert.GreaterOrEqual(t, uint64(b), uint64(a))
}
