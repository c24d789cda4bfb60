package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	encoded := EncodeCursor(42, ts)
	require.NotEmpty(t, encoded)

	c, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.LastID)
	assert.True(t, ts.Equal(c.Timestamp))
}

func TestDecodeCursor_Empty(t *testing.T) {
	c, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	bad := []string{
		"not-base64!!",
		base64.StdEncoding.EncodeToString([]byte("no-separator")),
		base64.StdEncoding.EncodeToString([]byte("abc|2026-01-01T00:00:00Z")),
		base64.StdEncoding.EncodeToString([]byte("0|2026-01-01T00:00:00Z")),
		base64.StdEncoding.EncodeToString([]byte("5|yesterday")),
	}
	for _, s := range bad {
		_, err := DecodeCursor(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestEncodeCursor_NoID(t *testing.T) {
	assert.Empty(t, EncodeCursor(0, time.Now()))
}

func TestCursorBefore(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Cursor{LastID: 10, Timestamp: ts}

	assert.True(t, c.Before(ts, 9))
	assert.False(t, c.Before(ts, 10))
	assert.False(t, c.Before(ts, 11))
	assert.True(t, c.Before(ts.Add(-time.Second), 50))
	assert.False(t, c.Before(ts.Add(time.Second), 1))

	var none *Cursor
	assert.True(t, none.Before(ts, 1))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(1000))
}

func TestTrim(t *testing.T) {
	type row struct {
		id int64
		at time.Time
	}
	now := time.Now().UTC()
	key := func(r row) (int64, time.Time) { return r.id, r.at }

	rows := []row{{5, now}, {4, now}, {3, now}}

	items, next, more := Trim(rows, 5, key)
	assert.Len(t, items, 3)
	assert.Empty(t, next)
	assert.False(t, more)

	items, next, more = Trim(rows, 3, key)
	assert.Len(t, items, 3)
	assert.Empty(t, next)
	assert.False(t, more)

	items, next, more = Trim(rows, 2, key)
	require.Len(t, items, 2)
	assert.True(t, more)
	c, err := DecodeCursor(next)
	require.NoError(t, err)
	assert.Equal(t, int64(4), c.LastID)
	assert.True(t, c.Timestamp.Equal(now))
}
