package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Period is a resolved half-open interval [Start, End).
type Period struct {
	Label string
	Start time.Time
	End   time.Time
}

var (
	monthPattern   = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	quarterPattern = regexp.MustCompile(`^(\d{4})-Q([1-4])$`)
	yearPattern    = regexp.MustCompile(`^(\d{4})$`)
)

// ResolvePeriod turns a period specifier into a date range. Accepted shapes:
// YYYY-MM, YYYY-Qn, YYYY, or an explicit YYYY-MM-DD..YYYY-MM-DD range.
// Anything else is a hard input error.
func ResolvePeriod(spec string) (Period, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Period{}, fmt.Errorf("%w: empty specifier", ErrInvalidPeriod)
	}

	if m := monthPattern.FindStringSubmatch(spec); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return Period{}, fmt.Errorf("%w: month out of range in %q", ErrInvalidPeriod, spec)
		}
		start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		return Period{Label: spec, Start: start, End: start.AddDate(0, 1, 0)}, nil
	}

	if m := quarterPattern.FindStringSubmatch(spec); m != nil {
		year, _ := strconv.Atoi(m[1])
		quarter, _ := strconv.Atoi(m[2])
		start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return Period{Label: spec, Start: start, End: start.AddDate(0, 3, 0)}, nil
	}

	if m := yearPattern.FindStringSubmatch(spec); m != nil {
		year, _ := strconv.Atoi(m[1])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return Period{Label: spec, Start: start, End: start.AddDate(1, 0, 0)}, nil
	}

	if from, to, ok := strings.Cut(spec, ".."); ok {
		start, err1 := time.Parse("2006-01-02", strings.TrimSpace(from))
		end, err2 := time.Parse("2006-01-02", strings.TrimSpace(to))
		if err1 != nil || err2 != nil {
			return Period{}, fmt.Errorf("%w: bad explicit range %q", ErrInvalidPeriod, spec)
		}
		// End date is inclusive in the specifier.
		end = end.AddDate(0, 0, 1)
		if !end.After(start) {
			return Period{}, fmt.Errorf("%w: end before start in %q", ErrInvalidPeriod, spec)
		}
		return Period{Label: spec, Start: start, End: end}, nil
	}

	return Period{}, fmt.Errorf("%w: unrecognized specifier %q", ErrInvalidPeriod, spec)
}

// StartDate and EndDate format the interval as inclusive YYYY-MM-DD bounds
// for date-keyed tables.
func (p Period) StartDate() string { return p.Start.Format("2006-01-02") }

func (p Period) EndDate() string { return p.End.AddDate(0, 0, -1).Format("2006-01-02") }
