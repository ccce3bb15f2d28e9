// Package dateparse tries a fixed set of spreadsheet date formats, plus
// the spreadsheet-epoch numeric encoding, and never errors: an
// unrecognized value simply parses to the zero value with ok=false.
package dateparse

import (
	"strconv"
	"strings"
	"time"
)

var layouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.06",
}

// spreadsheetEpoch is the day zero used by common spreadsheet
// applications (1899-12-30), accounting for the historical leap-year bug.
var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Parse tries every fixed layout in order, then falls back to the
// numeric spreadsheet-epoch encoding when the value looks like a serial
// day count in (10000, 100000).
func Parse(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial > 10000 && serial < 100000 {
			days := int(serial)
			return spreadsheetEpoch.AddDate(0, 0, days), true
		}
	}

	return time.Time{}, false
}
