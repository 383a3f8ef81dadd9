package services

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ExpandRecurring turns pattern into concrete slots in loc. Both dates are
// inclusive, occurrences at or before now are skipped and duplicate days or
// times collapse. pattern is expected to be validated.
func ExpandRecurring(pattern RecurringPattern, loc *time.Location, now time.Time) []SlotInput {
	if loc == nil {
		loc = time.UTC
	}
	startDate, err := time.ParseInLocation("2006-01-02", pattern.StartDate, loc)
	if err != nil {
		return nil
	}
	endDate, err := time.ParseInLocation("2006-01-02", pattern.EndDate, loc)
	if err != nil {
		return nil
	}

	days := make(map[time.Weekday]struct{}, len(pattern.DaysOfWeek))
	for _, day := range pattern.DaysOfWeek {
		days[time.Weekday(day)] = struct{}{}
	}
	clock := parseClockTimes(pattern.Times)

	slots := make([]SlotInput, 0)
	for day := startDate; !day.After(endDate); day = day.AddDate(0, 0, 1) {
		if _, ok := days[day.Weekday()]; !ok {
			continue
		}
		for _, tod := range clock {
			start := time.Date(day.Year(), day.Month(), day.Day(), tod.hour, tod.minute, 0, 0, loc)
			if !start.After(now) {
				continue
			}
			slots = append(slots, SlotInput{
				Start:           start,
				DurationMinutes: pattern.DurationMinutes,
				TrainerID:       pattern.TrainerID,
				ClientID:        pattern.ClientID,
				Location:        pattern.Location,
				Notes:           pattern.Notes,
			})
		}
	}
	return slots
}

type timeOfDay struct {
	hour   int
	minute int
}

func parseClockTimes(values []string) []timeOfDay {
	seen := make(map[timeOfDay]struct{}, len(values))
	out := make([]timeOfDay, 0, len(values))
	for _, value := range values {
		hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
		if !ok {
			continue
		}
		hour, errHour := strconv.Atoi(hh)
		minute, errMinute := strconv.Atoi(mm)
		if errHour != nil || errMinute != nil {
			continue
		}
		tod := timeOfDay{hour: hour, minute: minute}
		if _, dup := seen[tod]; dup {
			continue
		}
		seen[tod] = struct{}{}
		out = append(out, tod)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].hour != out[j].hour {
			return out[i].hour < out[j].hour
		}
		return out[i].minute < out[j].minute
	})
	return out
}
