// Package filter selects the devices that must be reported as inactive.
package filter

import (
	"strings"
	"time"

	"device-notifier/internal/models"
	"device-notifier/internal/reference"
)

// Day is the unit of the inactivity threshold.
const Day = 24 * time.Hour

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseLastSeen parses a last-communication timestamp. Values without a
// zone are read as UTC.
func ParseLastSeen(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Cutoff is the latest last-seen instant that still counts as inactive.
func Cutoff(now time.Time, thresholdDays int) time.Time {
	return now.Add(-time.Duration(thresholdDays) * Day)
}

// Inactive reports whether d is an active device silent since cutoff or
// earlier. Devices with an unparseable timestamp are never inactive.
func Inactive(d models.DeviceRecord, cutoff time.Time) bool {
	if !d.Active {
		return false
	}
	seen, ok := ParseLastSeen(d.LastSeen)
	if !ok {
		return false
	}
	return !seen.After(cutoff)
}

// Filter returns one candidate per inactive device, in input order. Owners
// default to models.OwnerNotFound and unmatched locations get no recipients.
func Filter(devices []models.DeviceRecord, owners map[string]string, contacts map[string][]string, thresholdDays int, now time.Time) []models.Candidate {
	cutoff := Cutoff(now, thresholdDays)

	var out []models.Candidate
	for _, d := range devices {
		if !Inactive(d, cutoff) {
			continue
		}
		owner, ok := owners[d.ID]
		if !ok {
			owner = models.OwnerNotFound
		}
		recipients := append([]string(nil), contacts[reference.NormalizeLocation(d.Location)]...)
		out = append(out, models.Candidate{
			Seq:        len(out),
			Device:     d,
			Owner:      owner,
			Recipients: recipients,
		})
	}
	return out
}

// Devices returns the device records of candidates, in order.
func Devices(candidates []models.Candidate) []models.DeviceRecord {
	out := make([]models.DeviceRecord, len(candidates))
	for i, c := range candidates {
		out[i] = c.Device
	}
	return out
}
