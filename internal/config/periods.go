package config

import (
	"errors"
	"fmt"
	"strings"
)

// PeriodKey identifies a registry statistics window.
type PeriodKey string

// Period keys understood by the downloads "point" endpoint.
const (
	LastDay   PeriodKey = "last-day"
	LastWeek  PeriodKey = "last-week"
	LastMonth PeriodKey = "last-month"
	LastYear  PeriodKey = "last-year"
)

// DefaultPeriod is selected when nothing else is configured.
const DefaultPeriod = LastWeek

// ErrUnknownPeriod is returned when a period key is not one of Periods.
var ErrUnknownPeriod = errors.New("unknown period")

// PeriodOption pairs a period key with its display label.
type PeriodOption struct {
	Key   PeriodKey `json:"key"`
	Label string    `json:"label"`
}

var periods = []PeriodOption{
	{Key: LastDay, Label: "Last day"},
	{Key: LastWeek, Label: "Last 7 days"},
	{Key: LastMonth, Label: "Last 30 days"},
	{Key: LastYear, Label: "Last 12 months"},
}

// Periods returns the selectable periods in display order.
func Periods() []PeriodOption {
	out := make([]PeriodOption, len(periods))
	copy(out, periods)
	return out
}

// LookupPeriod returns the option for key.
func LookupPeriod(key PeriodKey) (PeriodOption, bool) {
	for _, p := range periods {
		if p.Key == key {
			return p, true
		}
	}
	return PeriodOption{}, false
}

// PeriodLabel returns the label for key, or "" if the key is unknown.
func PeriodLabel(key PeriodKey) string {
	p, _ := LookupPeriod(key)
	return p.Label
}

// ParsePeriod validates s as a period key.
func ParsePeriod(s string) (PeriodKey, error) {
	if _, ok := LookupPeriod(PeriodKey(s)); !ok {
		return "", fmt.Errorf("%w: %q (want one of %s)", ErrUnknownPeriod, s, periodKeyList())
	}
	return PeriodKey(s), nil
}

func periodKeyList() string {
	keys := make([]string, len(periods))
	for i, p := range periods {
		keys[i] = string(p.Key)
	}
	return strings.Join(keys, ", ")
}
