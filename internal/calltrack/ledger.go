package calltrack

import (
	"errors"
	"fmt"
	"strings"
)

const (
	callStartMarker = ": Call start: "
	callEndMarker   = " Call End: "
)

// ErrLineNotFound reports that no ledger line exists for a call id.
var ErrLineNotFound = errors.New("no ledger line for call id")

// Record is one call's ledger entry. An open record has only a start
// timestamp; completing it adds the end timestamp and duration. The call id
// is only present on open records: the completed wire format drops it.
type Record struct {
	CallID          string
	User            string
	Start           string
	End             string
	DurationMinutes int
}

// Open reports whether the record still awaits a hangup.
func (r Record) Open() bool { return r.End == "" }

func (r Record) encode() string {
	if r.Open() {
		return fmt.Sprintf("%s: Call start: %s (%s)", r.User, r.Start, r.CallID)
	}
	return fmt.Sprintf("%s: Call start: %s Call End: %s \"Duration: %dmin\"", r.User, r.Start, r.End, r.DurationMinutes)
}

// line is one line of the description blob: either a parsed call record or
// raw text preserved verbatim so foreign content round-trips untouched.
type line struct {
	record *Record
	raw    string
}

// Ledger is the typed view of a ticket's description field. All lookups and
// mutations operate on parsed records; string search happens only in Decode
// and string assembly only in Encode.
type Ledger struct {
	lines []line
}

// Decode parses a description blob into a ledger. Lines matching the open
// record form "user: Call start: <ts> (<id>)" become typed records; anything
// else, including completed records from earlier calls, is kept as raw text.
func Decode(description string) *Ledger {
	ledger := &Ledger{}
	if description == "" {
		return ledger
	}
	for _, text := range strings.Split(description, "\n") {
		if rec, ok := parseOpenLine(text); ok {
			ledger.lines = append(ledger.lines, line{record: rec})
		} else {
			ledger.lines = append(ledger.lines, line{raw: text})
		}
	}
	return ledger
}

// Encode serializes the ledger back into the description blob.
func (l *Ledger) Encode() string {
	parts := make([]string, 0, len(l.lines))
	for _, ln := range l.lines {
		if ln.record != nil {
			parts = append(parts, ln.record.encode())
		} else {
			parts = append(parts, ln.raw)
		}
	}
	return strings.Join(parts, "\n")
}

func parseOpenLine(text string) (*Record, bool) {
	markerPos := strings.Index(text, callStartMarker)
	if markerPos <= 0 {
		return nil, false
	}
	rest := text[markerPos+len(callStartMarker):]
	// Completed lines carry an end marker instead of the "(id)" suffix.
	if strings.Contains(rest, strings.TrimPrefix(callEndMarker, " ")) {
		return nil, false
	}
	open := strings.LastIndex(rest, " (")
	if open < 0 || !strings.HasSuffix(rest, ")") {
		return nil, false
	}
	callID := rest[open+2 : len(rest)-1]
	if callID == "" {
		return nil, false
	}
	return &Record{
		User:   text[:markerPos],
		Start:  rest[:open],
		CallID: callID,
	}, true
}

// FindOpen returns the open record for callID, or nil.
func (l *Ledger) FindOpen(callID string) *Record {
	for _, ln := range l.lines {
		if ln.record != nil && ln.record.CallID == callID {
			return ln.record
		}
	}
	return nil
}

// IsRecorded reports whether an open line already exists for (user, callID).
// Webhook retries hit this check instead of inserting a duplicate.
func (l *Ledger) IsRecorded(user, callID string) bool {
	rec := l.FindOpen(callID)
	return rec != nil && rec.User == user
}

// AppendOpen adds an open record for (user, start, callID) at the end of the
// ledger.
func (l *Ledger) AppendOpen(user, start, callID string) {
	l.lines = append(l.lines, line{record: &Record{
		User:   user,
		Start:  start,
		CallID: callID,
	}})
}

// RenameUser rewrites the open record for callID to carry newUser, keeping
// the start timestamp and call id verbatim. A missing line is an
// ErrLineNotFound; the caller decides whether that is fatal for the event.
func (l *Ledger) RenameUser(callID, newUser string) error {
	rec := l.FindOpen(callID)
	if rec == nil {
		return ErrLineNotFound
	}
	rec.User = newUser
	return nil
}

// Complete closes the open record for callID with the end timestamp and
// duration, replacing the line with the completed form. Returns false when no
// open record exists; the tracking id is still removed by the caller in that
// case.
func (l *Ledger) Complete(callID, end string, durationMinutes int) bool {
	rec := l.FindOpen(callID)
	if rec == nil {
		return false
	}
	rec.End = end
	rec.DurationMinutes = durationMinutes
	return true
}
