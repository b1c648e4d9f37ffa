package reference

import (
	"sort"
	"strings"

	"device-notifier/internal/models"
)

// LocationPrefixes are the environment qualifiers removed from device
// locations before they are matched against the contact table.
var LocationPrefixes = []string{"Produção ", "Apoio "}

// NormalizeLocation strips every occurrence of the known prefix tokens.
// Only device locations go through it; contact keys are matched as written,
// so a new prefix silently produces no match until it is added here.
func NormalizeLocation(location string) string {
	for _, prefix := range LocationPrefixes {
		location = strings.ReplaceAll(location, prefix, "")
	}
	return strings.TrimSpace(location)
}

// Coverage returns the normalized device locations that have no contact row,
// sorted. It does not influence matching.
func Coverage(devices []models.DeviceRecord, contacts map[string][]string) []string {
	missing := make(map[string]struct{})
	for _, d := range devices {
		loc := NormalizeLocation(d.Location)
		if _, ok := contacts[loc]; !ok {
			missing[loc] = struct{}{}
		}
	}
	out := make([]string, 0, len(missing))
	for loc := range missing {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
