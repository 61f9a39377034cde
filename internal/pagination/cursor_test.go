package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 20, 9, 15, 0, 0, time.UTC)
	id := "led_9f3a2b"

	token := Encode(ts, id)
	assert.NotEmpty(t, token)

	cur, err := Decode(token)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, ts, cur.CreatedAt)
	assert.Equal(t, id, cur.ID)
}

func TestDecode_EmptyMeansStart(t *testing.T) {
	cur, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cur)
}

func TestDecode_Invalid(t *testing.T) {
	cases := map[string]string{
		"not base64":   "%%%not-base64%%%",
		"no separator": "bm9waXBl", // base64("nopipe")
		"bad nanos":    Encode(time.Time{}, "")[:4],
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(token)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestComputePage_LastPage(t *testing.T) {
	items := []string{"a", "b", "c"}
	page, token, hasMore := ComputePage(items, 5, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Len(t, page, 3)
	assert.Empty(t, token)
	assert.False(t, hasMore)
}

func TestComputePage_OverFetchYieldsCursor(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	page, token, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s
	})
	assert.Len(t, page, 3)
	assert.True(t, hasMore)

	cur, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "c", cur.ID)
}

func TestComputePage_ExactLimit(t *testing.T) {
	items := []string{"a", "b", "c"}
	page, token, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Len(t, page, 3)
	assert.Empty(t, token)
	assert.False(t, hasMore)
}
