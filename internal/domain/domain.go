package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TrackedLink is one resource watched on behalf of a chat. Marker is the
// last-known-activity value as the source reported it; its only meaningful
// comparison is equality.
type TrackedLink struct {
	ID      int64
	ChatID  int64
	URL     string
	Marker  string
	Filters []string
	Tags    []string
}

// IgnoredAuthors extracts the values of `ignore:` filter expressions.
func (l TrackedLink) IgnoredAuthors() []string {
	var authors []string

	for _, f := range l.Filters {
		value, ok := strings.CutPrefix(f, "ignore:")
		if !ok {
			continue
		}

		authors = append(authors, value)
	}

	return authors
}

// ActivitySnapshot is the result of a single source fetch. It lives only for
// the duration of the comparison and, on change, the notification it produces.
type ActivitySnapshot struct {
	Marker  string
	Author  string
	Title   string
	Preview string
}

// Update pairs a tracked link with the snapshot that triggered it, destined
// for exactly one chat.
type Update struct {
	Link     TrackedLink
	Snapshot ActivitySnapshot
}

// DayTime is a wall-clock time of day without a date, used for deferred
// delivery preferences.
type DayTime struct {
	Hour   int
	Minute int
}

// ParseDayTime parses "HH:MM".
func ParseDayTime(s string) (DayTime, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return DayTime{}, fmt.Errorf("invalid time of day %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return DayTime{}, fmt.Errorf("parse hour: %w", err)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return DayTime{}, fmt.Errorf("parse minute: %w", err)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return DayTime{}, fmt.Errorf("time of day %q out of range", s)
	}

	return DayTime{Hour: hour, Minute: minute}, nil
}

func (t DayTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// NextOccurrence returns the next moment the wall-clock time comes around in
// loc: today if it is still ahead, otherwise tomorrow.
func (t DayTime) NextOccurrence(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	run := time.Date(local.Year(), local.Month(), local.Day(), t.Hour, t.Minute, 0, 0, loc)

	if !run.After(local) {
		run = run.AddDate(0, 0, 1)
	}

	return run
}
