package calltrack

import (
	"errors"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		desc string
	}{
		{"empty", ""},
		{"single open line", "alice: Call start: 2031-01-01 10:00:00 (C1)"},
		{"open line after free text", "Customer reported outage.\nalice: Call start: 2031-01-01 10:00:00 (C1)"},
		{"completed line preserved raw", `bob: Call start: 2031-01-01 10:00:00 Call End: 2031-01-01 10:15:00 "Duration: 15min"`},
		{"mixed", "note\nalice: Call start: 2031-01-01 10:00:00 (C1)\nbob: Call start: 2031-01-01 10:05:00 (C2)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decode(tc.desc).Encode(); got != tc.desc {
				t.Errorf("round trip mangled description:\n got: %q\nwant: %q", got, tc.desc)
			}
		})
	}
}

func TestAppendOpenAndIsRecorded(t *testing.T) {
	ledger := Decode("")
	ledger.AppendOpen("alice", "2031-01-01 10:00:00", "C1")

	if got := ledger.Encode(); got != "alice: Call start: 2031-01-01 10:00:00 (C1)" {
		t.Fatalf("Encode = %q", got)
	}
	if !ledger.IsRecorded("alice", "C1") {
		t.Error("IsRecorded(alice, C1) = false, want true")
	}
	if ledger.IsRecorded("bob", "C1") {
		t.Error("IsRecorded(bob, C1) = true, want false")
	}
	if ledger.IsRecorded("alice", "C2") {
		t.Error("IsRecorded(alice, C2) = true, want false")
	}
}

func TestAppendOpenNewlinePrefix(t *testing.T) {
	ledger := Decode("existing note")
	ledger.AppendOpen("alice", "2031-01-01 10:00:00", "C1")
	want := "existing note\nalice: Call start: 2031-01-01 10:00:00 (C1)"
	if got := ledger.Encode(); got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestRenameUser(t *testing.T) {
	ledger := Decode("alice: Call start: 2031-01-01 10:00:00 (C1)")
	if err := ledger.RenameUser("C1", "bob"); err != nil {
		t.Fatalf("RenameUser: %v", err)
	}
	want := "bob: Call start: 2031-01-01 10:00:00 (C1)"
	if got := ledger.Encode(); got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}

	if err := ledger.RenameUser("C9", "bob"); !errors.Is(err, ErrLineNotFound) {
		t.Errorf("RenameUser(C9) err = %v, want ErrLineNotFound", err)
	}
}

func TestComplete(t *testing.T) {
	ledger := Decode("bob: Call start: 2031-01-01 10:00:00 (C1)")
	if !ledger.Complete("C1", "2031-01-01 10:15:00", 15) {
		t.Fatal("Complete(C1) = false, want true")
	}
	want := `bob: Call start: 2031-01-01 10:00:00 Call End: 2031-01-01 10:15:00 "Duration: 15min"`
	if got := ledger.Encode(); got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}

	// The completed line no longer carries the call id, so a second hangup
	// finds nothing and reports false.
	if ledger.Complete("C1", "2031-01-01 10:20:00", 20) {
		t.Error("Complete on completed line = true, want false")
	}
}

func TestCompleteMissingLine(t *testing.T) {
	ledger := Decode("free text only")
	if ledger.Complete("C1", "2031-01-01 10:15:00", 15) {
		t.Error("Complete with no matching line = true, want false")
	}
	if got := ledger.Encode(); got != "free text only" {
		t.Errorf("description mutated: %q", got)
	}
}

func TestConcurrentCallsKeepSeparateLines(t *testing.T) {
	ledger := Decode("")
	ledger.AppendOpen("alice", "2031-01-01 10:00:00", "C1")
	ledger.AppendOpen("bob", "2031-01-01 10:01:00", "C2")

	if err := ledger.RenameUser("C2", "carol"); err != nil {
		t.Fatalf("RenameUser: %v", err)
	}
	if !ledger.Complete("C1", "2031-01-01 10:10:00", 10) {
		t.Fatal("Complete(C1) failed")
	}
	want := "alice: Call start: 2031-01-01 10:00:00 Call End: 2031-01-01 10:10:00 \"Duration: 10min\"\n" +
		"carol: Call start: 2031-01-01 10:01:00 (C2)"
	if got := ledger.Encode(); got != want {
		t.Errorf("Encode = %q,\nwant %q", got, want)
	}
}
