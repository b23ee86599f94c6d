package voicetools

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/calendar-ai-platform/internal/providers"
)

const (
	defaultWindowDays  = 13
	calendlyWindowDays = 6
	calendlyCapDays    = 7
	defaultDuration    = 60 * time.Minute
)

// resolveRange fills in the date-range defaults: start today, end
// thirteen days out. Calendly's availability API only reaches a week
// ahead, so its window is shorter and the range is capped.
func resolveRange(provider providers.Provider, startDate, endDate, tz string, now time.Time) (time.Time, time.Time, error) {
	loc := loadLocation(tz)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	start := today
	if startDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", startDate, loc)
		if err != nil {
			return time.Time{}, time.Time{}, &providers.ValidationError{Reason: fmt.Sprintf("start date %q is not in YYYY-MM-DD format", startDate)}
		}
		start = parsed
	}

	windowDays := defaultWindowDays
	if provider == providers.Calendly {
		windowDays = calendlyWindowDays
	}
	end := start.AddDate(0, 0, windowDays).Add(24*time.Hour - time.Second)
	if endDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", endDate, loc)
		if err != nil {
			return time.Time{}, time.Time{}, &providers.ValidationError{Reason: fmt.Sprintf("end date %q is not in YYYY-MM-DD format", endDate)}
		}
		end = parsed.Add(24*time.Hour - time.Second)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, &providers.ValidationError{Reason: "end date is before start date"}
	}
	if provider == providers.Calendly {
		if cap := start.AddDate(0, 0, calendlyCapDays); end.After(cap) {
			end = cap
		}
	}
	return start, end, nil
}

func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// formatBusy renders busy slots the way a receptionist would say them.
func formatBusy(busy []providers.BusySlot, start, end time.Time, tz string) string {
	loc := loadLocation(tz)
	rangeDesc := fmt.Sprintf("%s through %s",
		start.In(loc).Format("Monday, January 2"),
		end.In(loc).Format("Monday, January 2"))

	if len(busy) == 0 {
		return fmt.Sprintf("The calendar is completely open from %s.", rangeDesc)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Between %s, these times are already taken: ", rangeDesc)
	byDay := map[string][]string{}
	var dayOrder []string
	for _, slot := range busy {
		day := slot.Start.In(loc).Format("Monday, January 2")
		if _, seen := byDay[day]; !seen {
			dayOrder = append(dayOrder, day)
		}
		byDay[day] = append(byDay[day], fmt.Sprintf("%s to %s",
			slot.Start.In(loc).Format("3:04 PM"),
			slot.End.In(loc).Format("3:04 PM")))
	}
	for i, day := range dayOrder {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s from %s", day, strings.Join(byDay[day], ", "))
	}
	b.WriteString(". Any other time in that range is free.")
	return b.String()
}
