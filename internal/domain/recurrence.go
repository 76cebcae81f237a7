package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Weekday is a lowercase three-letter abbreviation (mon..sun), the form both
// the store and the cron scheduler consume.
type Weekday string

var weekdayByName = map[string]Weekday{
	"monday":    "mon",
	"tuesday":   "tue",
	"wednesday": "wed",
	"thursday":  "thu",
	"friday":    "fri",
	"saturday":  "sat",
	"sunday":    "sun",
}

var weekdayFullName = map[Weekday]string{
	"mon": "Monday",
	"tue": "Tuesday",
	"wed": "Wednesday",
	"thu": "Thursday",
	"fri": "Friday",
	"sat": "Saturday",
	"sun": "Sunday",
}

// ParseWeekday accepts a full English day name, case-insensitive.
func ParseWeekday(s string) (Weekday, error) {
	d, ok := weekdayByName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}

// ParseWeekdayAbbrev accepts the stored abbreviation form.
func ParseWeekdayAbbrev(s string) (Weekday, error) {
	d := Weekday(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := weekdayFullName[d]; !ok {
		return "", fmt.Errorf("unknown weekday abbreviation %q", s)
	}
	return d, nil
}

// Full returns the capitalized English day name.
func (d Weekday) Full() string { return weekdayFullName[d] }

// JoinDays renders the comma-joined storage form ("mon,wed,fri").
func JoinDays(days []Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

// SplitDays parses the comma-joined storage form; unknown tokens are an error.
func SplitDays(s string) ([]Weekday, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var days []Weekday
	for _, p := range strings.Split(s, ",") {
		d, err := ParseWeekdayAbbrev(p)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

// RecurrenceSpec is the parsed form of a recurrence phrase. Message holds the
// remainder of the input after the recurrence prefix.
type RecurrenceSpec struct {
	Type    RecurrenceType
	Day     Weekday // weekly only
	Time    string  // "HH:MM" as typed
	Message string
}

var (
	dailyRe  = regexp.MustCompile(`(?i)^every day at (\d{1,2}:\d{2})(?:\s+|$)`)
	weeklyRe = regexp.MustCompile(`(?i)^every week on (\w+) at (\d{1,2}:\d{2})(?:\s+|$)`)
)

// ParseRecurrence matches the recurrence grammar at the start of text:
//
//	every day at HH:MM <message>
//	every week on <weekday> at HH:MM <message>
//
// A nil result means the text is not a recurrence phrase and the caller should
// fall through to one-time date parsing.
func ParseRecurrence(text string) *RecurrenceSpec {
	if m := dailyRe.FindStringSubmatch(text); m != nil {
		if _, _, err := ParseHHMM(m[1]); err != nil {
			return nil
		}
		return &RecurrenceSpec{
			Type:    RecurDaily,
			Time:    m[1],
			Message: strings.TrimSpace(text[len(m[0]):]),
		}
	}
	if m := weeklyRe.FindStringSubmatch(text); m != nil {
		day, err := ParseWeekday(m[1])
		if err != nil {
			return nil
		}
		if _, _, err := ParseHHMM(m[2]); err != nil {
			return nil
		}
		return &RecurrenceSpec{
			Type:    RecurWeekly,
			Day:     day,
			Time:    m[2],
			Message: strings.TrimSpace(text[len(m[0]):]),
		}
	}
	return nil
}

// ParseHHMM parses "HH:MM" into hour and minute.
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, errors.New("expected HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errors.New("invalid hour")
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.New("invalid minute")
	}
	return hour, minute, nil
}
