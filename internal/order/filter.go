package order

import (
	"math"
	"strings"
	"time"
)

const (
	PeriodAll    = ""
	Period7d     = "7d"
	Period30d    = "30d"
	Period90d    = "90d"
	PeriodCustom = "custom"

	SortCreatedAt = "createdAt"
	SortAmount    = "amount"
	SortStatus    = "status"

	DefaultPage     = 1
	DefaultPageSize = 20
	MinPageSize     = 5
	MaxPageSize     = 100

	// MaxExportRows bounds CSV and spreadsheet exports.
	MaxExportRows = 5000
)

// ListFilter is the admin list/export query. Normalize must be applied
// before it reaches the repository.
type ListFilter struct {
	Query    string `json:"q,omitempty"`
	CardType string `json:"cardType,omitempty"`
	Status   Status `json:"status,omitempty"`
	Period   string `json:"period,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Sort     string `json:"sort"`
	Dir      string `json:"dir"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

// Normalize trims every field, upper-cases card type and status, lower-cases
// the period, and falls back to defaults for unknown sort keys, directions
// and paging values.
func (f ListFilter) Normalize() ListFilter {
	f.Query = strings.TrimSpace(f.Query)
	f.CardType = strings.ToUpper(strings.TrimSpace(f.CardType))
	f.Status = Status(strings.ToUpper(strings.TrimSpace(string(f.Status))))
	f.Period = strings.ToLower(strings.TrimSpace(f.Period))
	f.Start = strings.TrimSpace(f.Start)
	f.End = strings.TrimSpace(f.End)

	switch strings.TrimSpace(f.Sort) {
	case SortAmount:
		f.Sort = SortAmount
	case SortStatus:
		f.Sort = SortStatus
	default:
		f.Sort = SortCreatedAt
	}

	if strings.EqualFold(strings.TrimSpace(f.Dir), "asc") {
		f.Dir = "asc"
	} else {
		f.Dir = "desc"
	}

	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	f.PageSize = ClampPageSize(f.PageSize)

	return f
}

func ClampPageSize(n int) int {
	if n < MinPageSize {
		return MinPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// Window bounds createdAt, both ends inclusive. A nil bound is open.
type Window struct {
	From *time.Time
	To   *time.Time
}

// Window resolves the period of f against now. Relative periods count back
// from now; custom uses Start/End, ignoring values that do not parse. A
// date-only End covers the whole day.
func (f ListFilter) Window(now time.Time) Window {
	days := map[string]int{Period7d: 7, Period30d: 30, Period90d: 90}
	if d, ok := days[f.Period]; ok {
		from := now.Add(-time.Duration(d) * 24 * time.Hour)
		return Window{From: &from}
	}

	if f.Period != PeriodCustom {
		return Window{}
	}

	var w Window
	if t, _, ok := parseBound(f.Start); ok {
		w.From = &t
	}
	if t, dateOnly, ok := parseBound(f.End); ok {
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		w.To = &t
	}
	return w
}

func parseBound(s string) (t time.Time, dateOnly bool, ok bool) {
	if s == "" {
		return time.Time{}, false, false
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), true, true
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), false, true
		}
	}
	return time.Time{}, false, false
}

// TotalPages is never below 1.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return int(math.Ceil(float64(total) / float64(pageSize)))
}

// ClampQuantity coerces a requested quantity into [1, 99]: non-finite values
// become 1 and fractions are floored.
func ClampQuantity(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	n := math.Floor(v)
	if n < 1 {
		return 1
	}
	if n > 99 {
		return 99
	}
	return int(n)
}

// AddBusinessDays moves t forward by n weekdays, skipping Saturdays and
// Sundays.
func AddBusinessDays(t time.Time, n int) time.Time {
	for added := 0; added < n; {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return t
}
