package model

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimestampLayout is used when a timestamp is rendered without a pattern
const DefaultTimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a time that renders itself for %#NAME:PATTERN#% path
// placeholders. Patterns use YYYY, YY, MM, DD, HH, mm, ss and SSS tokens;
// anything else is copied literally.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// timestampTokens is ordered longest first so YYYY wins over YY.
var timestampTokens = []struct {
	token  string
	render func(t time.Time) string
}{
	{"YYYY", func(t time.Time) string { return fmt.Sprintf("%04d", t.Year()) }},
	{"SSS", func(t time.Time) string { return fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond)) }},
	{"YY", func(t time.Time) string { return fmt.Sprintf("%02d", t.Year()%100) }},
	{"MM", func(t time.Time) string { return fmt.Sprintf("%02d", int(t.Month())) }},
	{"DD", func(t time.Time) string { return fmt.Sprintf("%02d", t.Day()) }},
	{"HH", func(t time.Time) string { return fmt.Sprintf("%02d", t.Hour()) }},
	{"mm", func(t time.Time) string { return fmt.Sprintf("%02d", t.Minute()) }},
	{"ss", func(t time.Time) string { return fmt.Sprintf("%02d", t.Second()) }},
}

// Format renders the timestamp with a token pattern
func (ts Timestamp) Format(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		matched := false
		for _, tok := range timestampTokens {
			if strings.HasPrefix(pattern[i:], tok.token) {
				b.WriteString(tok.render(ts.Time))
				i += len(tok.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}

// String renders the timestamp with DefaultTimestampLayout
func (ts Timestamp) String() string {
	return ts.Time.Format(DefaultTimestampLayout)
}
