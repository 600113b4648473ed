package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"smart-progress/internal/model"
)

// dayOr parses a YYYY-MM-DD flag value, returning fallback when it is empty.
func dayOr(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		if fallback.IsZero() {
			return time.Time{}, fmt.Errorf("a date is required")
		}
		return fallback, nil
	}
	loc := time.Local
	if !fallback.IsZero() {
		loc = fallback.Location()
	}
	t, err := time.ParseInLocation(model.DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", value)
	}
	return t, nil
}

func formatLinks(id model.Identity) string {
	parts := make([]string, 0, len(id.Links))
	for _, l := range id.Links {
		parts = append(parts, string(l.Space)+":"+l.ExternalID)
	}
	return strings.Join(parts, ", ")
}

func newSpinner(description string) *progressbar.ProgressBar {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	_ = bar.RenderBlank()
	return bar
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}
