package httputil

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseIntParam parses an integer query value, returning defaultVal if it is
// empty or not a number.
func ParseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}

// ParseBoolParam parses an optional boolean. An empty string yields nil.
func ParseBoolParam(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean %q", s)
	}
	return &v, nil
}

// ParseTimeParam parses an optional RFC 3339 timestamp. An empty string yields nil.
func ParseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: expected RFC 3339", s)
	}
	return &t, nil
}

// ParseCSVParam splits a comma separated value, dropping empty entries.
func ParseCSVParam(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Pagination holds the page and page size of a list request.
type Pagination struct {
	Page        int `json:"page"`
	DisplaySize int `json:"display_size"`
}

// ParsePagination reads page and display_size, clamping display_size to maxSize.
func ParsePagination(r *http.Request, defaultSize, maxSize int) Pagination {
	q := r.URL.Query()
	page := ParseIntParam(q.Get("page"), 1)
	size := ParseIntParam(q.Get("display_size"), defaultSize)

	if size > maxSize {
		size = maxSize
	}
	if size < 1 {
		size = defaultSize
	}
	if page < 1 {
		page = 1
	}
	return Pagination{Page: page, DisplaySize: size}
}

// Offset returns the row offset of the first item on the page, saturating at
// math.MaxInt instead of overflowing.
func (p Pagination) Offset() int {
	if p.Page <= 1 || p.DisplaySize <= 0 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.DisplaySize {
		return math.MaxInt
	}
	return (p.Page - 1) * p.DisplaySize
}
