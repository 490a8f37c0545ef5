// Package calltrack implements the stateful heart of the call engine: the
// DST-aware duration math, the comma-separated tracking-id codec, and the
// per-call ledger embedded in a ticket's description field.
package calltrack

import (
	"fmt"
	"time"
)

// TimestampLayout is the local-time format used everywhere a timestamp is
// written into ticket fields or ledger lines.
const TimestampLayout = "2006-01-02 15:04:05"

// ParseError reports a timestamp that does not match TimestampLayout.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse timestamp %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseTimestamp parses a local-time timestamp. time.ParseInLocation with
// time.Local resolves the daylight-saving offset from the calendar date, so
// timestamps on either side of a DST transition land on the correct instant.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, &ParseError{Input: s, Err: err}
	}
	return t, nil
}

// FormatTimestamp renders t in the ledger timestamp format, in local time.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// Minutes returns the whole-minute difference end-start between two local
// timestamps. Calls spanning a DST transition yield the wall-clock-correct
// count, not an hour off. The result can be negative for reversed inputs;
// only parse failures are reported as errors, and callers are expected to
// fall back to a configured default duration.
func Minutes(start, end string) (int, error) {
	startAt, err := ParseTimestamp(start)
	if err != nil {
		return 0, err
	}
	endAt, err := ParseTimestamp(end)
	if err != nil {
		return 0, err
	}
	return int(endAt.Sub(startAt) / time.Minute), nil
}
