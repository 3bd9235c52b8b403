package httputil

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntParam(t *testing.T) {
	assert.Equal(t, 10, ParseIntParam("", 10))
	assert.Equal(t, 3, ParseIntParam("3", 10))
	assert.Equal(t, 10, ParseIntParam("three", 10))
	assert.Equal(t, -1, ParseIntParam("-1", 10))
}

func TestParseBoolParam(t *testing.T) {
	v, err := ParseBoolParam("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseBoolParam("true")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, *v)

	_, err = ParseBoolParam("maybe")
	assert.Error(t, err)
}

func TestParseTimeParam(t *testing.T) {
	v, err := ParseTimeParam("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseTimeParam("2024-01-02T10:00:00.5Z")
	require.NoError(t, err)
	assert.True(t, v.Equal(time.Date(2024, 1, 2, 10, 0, 0, 500_000_000, time.UTC)))

	_, err = ParseTimeParam("02/01/2024")
	assert.Error(t, err)
}

func TestParseCSVParam(t *testing.T) {
	assert.Nil(t, ParseCSVParam(""))
	assert.Equal(t, []string{"1", "2"}, ParseCSVParam("1, 2,,"))
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		page   int
		size   int
		offset int
	}{
		{"defaults", "", 1, 100, 0},
		{"explicit", "?page=3&display_size=20", 3, 20, 40},
		{"clamped", "?display_size=5000", 1, 500, 0},
		{"non positive page", "?page=0", 1, 100, 0},
		{"non positive size", "?display_size=0", 1, 100, 0},
		{"huge page saturates", "?page=9223372036854775807", math.MaxInt, 100, math.MaxInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePagination(httptest.NewRequest("GET", "/v1/api/payout"+tt.query, nil), 100, 500)
			assert.Equal(t, tt.page, p.Page)
			assert.Equal(t, tt.size, p.DisplaySize)
			assert.Equal(t, tt.offset, p.Offset())
		})
	}
}
