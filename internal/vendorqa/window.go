// Package vendorqa runs the vendor-input stage: seller coverage, pairwise
// SPU-count movements and multi-month SPU-count trends per seller and per
// category URL.
package vendorqa

import (
	"errors"
	"fmt"
	"sort"

	"marketshare-qaqc/internal/domain"
)

var (
	// ErrInsufficientMonths is returned when fewer than two months exist.
	ErrInsufficientMonths = errors.New("need at least two months")

	// ErrMissingPreviousMonth is returned when the month before the latest
	// one has no data.
	ErrMissingPreviousMonth = errors.New("previous month missing")
)

// Window is a latest/previous month pair.
type Window struct {
	Latest   domain.Month
	Previous domain.Month
}

// DetectWindow picks the latest month and requires the calendar month
// before it to be present.
func DetectWindow(months []domain.Month) (Window, error) {
	if len(months) < 2 {
		return Window{}, fmt.Errorf("%w: found %d", ErrInsufficientMonths, len(months))
	}
	sorted := append([]domain.Month(nil), months...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	latest := sorted[len(sorted)-1]
	want := latest.AddMonths(-1)
	for _, m := range sorted {
		if m == want {
			return Window{Latest: latest, Previous: want}, nil
		}
	}
	return Window{}, fmt.Errorf("%w: latest %s, expected %s", ErrMissingPreviousMonth, latest, want)
}
