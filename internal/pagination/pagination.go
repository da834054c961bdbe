// Package pagination slices in-memory collections into pages.
package pagination

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// Page is one contiguous subrange of a collection.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Paginate returns the page-th run of limit elements from items. page and
// limit are clamped to at least 1. A page past the end is empty, not an error.
func Paginate[T any](items []T, page, limit int) Page[T] {
	page = max(page, 1)
	limit = max(limit, 1)

	result := Page[T]{
		Items: []T{},
		Total: len(items),
		Page:  page,
		Limit: limit,
	}

	// Compare in units of pages first so (page-1)*limit cannot overflow.
	if page-1 > len(items)/limit {
		return result
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return result
	}
	end := min(start+limit, len(items))
	result.Items = items[start:end]
	return result
}

// ParseParams reads page and limit from a query string. Each value is read
// up to its first non-digit after optional leading whitespace and sign, so
// "2abc" is 2 and "5.5" is 5. Missing, non-numeric or zero values fall back
// to the defaults; negative values clamp to 1.
func ParseParams(q url.Values) (page, limit int) {
	return intParam(q, "page", DefaultPage), intParam(q, "limit", DefaultLimit)
}

func intParam(q url.Values, key string, def int) int {
	v, ok := LeadingInt(q.Get(key))
	if !ok || v == 0 {
		return def
	}
	return max(v, 1)
}

// LeadingInt parses the integer prefix of s after any leading whitespace.
// ok is false when s has no digits there. Values outside the int range
// saturate.
func LeadingInt(s string) (v int, ok bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, strconv.IntSize)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return int(n), true
}

// Item is an element of the demo collection served by /pagination/items.
type Item struct {
	ID    int    `json:"id"`
	Value string `json:"value"`
}

// Items builds the demo collection of n items, numbered from 1.
func Items(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{ID: i + 1, Value: "Item " + strconv.Itoa(i+1)}
	}
	return items
}
