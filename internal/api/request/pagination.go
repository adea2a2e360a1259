package request

import (
	"net/http"
	"strconv"
)

// Pagination is the window a list endpoint returns: at most Limit rows
// starting after the row identified by Cursor.
type Pagination struct {
	Limit  int
	Cursor string
}

// Event and run histories grow unboundedly, so list endpoints cap the page
// size even when the caller asks for more.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ParsePagination reads limit and cursor from the query string. Absent or
// unparseable values fall back to the defaults rather than erroring.
func ParsePagination(r *http.Request) Pagination {
	p := Pagination{
		Limit:  DefaultLimit,
		Cursor: r.URL.Query().Get("cursor"),
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			p.Limit = limit
		}
	}

	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	return p
}
