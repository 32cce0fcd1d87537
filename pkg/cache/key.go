package cache

import (
	"net/url"
	"strings"
)

// Query holds the exam selection forwarded to the result backends.
type Query struct {
	Year     string
	Semester string
	ExamHeld string
}

// Complete reports whether every field is non-empty.
func (q Query) Complete() bool {
	return q.Year != "" && q.Semester != "" && q.ExamHeld != ""
}

// Key identifies one upstream batch request. Its string form is both the
// request URL and the cache key.
type Key struct {
	// BaseURL is the backend endpoint without a query string.
	BaseURL string

	// RegNo is the first registration number of the batch.
	RegNo string

	Query Query
}

// String builds the canonical request URL.
// Format: <base>?reg_no=<regNo>&year=<year>&semester=<semester>&exam_held=<examHeld>
//
// Parameter order is fixed and every value is query-escaped, so equal keys
// always produce the same string and distinct keys never collide.
func (k Key) String() string {
	var b strings.Builder
	b.Grow(len(k.BaseURL) + 64)

	b.WriteString(k.BaseURL)
	b.WriteString("?reg_no=")
	b.WriteString(url.QueryEscape(k.RegNo))
	b.WriteString("&year=")
	b.WriteString(url.QueryEscape(k.Query.Year))
	b.WriteString("&semester=")
	b.WriteString(url.QueryEscape(k.Query.Semester))
	b.WriteString("&exam_held=")
	b.WriteString(url.QueryEscape(k.Query.ExamHeld))

	return b.String()
}
