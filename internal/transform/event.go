package transform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

// EventOffset is subtracted from event start and end. The export wrote
// event times with a wrong offset, which the target API shifts once more.
const EventOffset = 4 * time.Hour

// Layouts the export uses for dates: ISO 8601 from newer exports and the
// legacy DateTime string form ("2019/05/13 11:47:28.123 GMT+2").
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05.999999 MST",
	"2006/01/02 15:04:05 MST",
	"2006/01/02 15:04 MST",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"2006-01-02",
}

// ParseDate parses an exported date string.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// isoDate converts an optional exported date to ISO 8601. "None" and empty
// strings are absent values.
func isoDate(s string) (string, bool) {
	if s == "" || s == "None" {
		return "", false
	}
	t, err := ParseDate(s)
	if err != nil {
		return "", false
	}
	return t.Format(time.RFC3339), true
}

// eventTime applies the event offset and keeps the recorded zone.
func eventTime(s string) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return t.Add(-EventOffset).Format(time.RFC3339), nil
}

// toASCII drops every non-ASCII rune.
func toASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 127 {
			return -1
		}
		return r
	}, s)
}

func eventFields(_ *Transformer, _ context.Context, rec models.Record) (map[string]interface{}, error) {
	f := map[string]interface{}{"text": rec["text"]}

	start, err := eventTime(rec.String("startDate"))
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := eventTime(rec.String("endDate"))
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	f["start"], f["end"] = start, end

	if u := rec.String("eventUrl"); u != "" {
		f["event_url"] = toASCII(u)
	}
	for src, dst := range map[string]string{
		"contactEmail": "contact_email",
		"contactName":  "contact_name",
		"contactPhone": "contact_phone",
	} {
		if v := rec.String(src); v != "" {
			f[dst] = v
		}
	}
	if a := rec.Strings("attendees"); len(a) > 0 {
		f["attendees"] = a
	}
	return f, nil
}
