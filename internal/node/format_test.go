package node

import (
	"net/netip"
	"testing"
	"time"
)

func TestFormatLine(t *testing.T) {
	ts := time.Date(2024, 1, 1, 9, 5, 7, 0, time.Local)

	if got := FormatLine(ts, "alice", "hello"); got != "09:05:07 [alice] hello" {
		t.Errorf("unexpected line %q", got)
	}
	if got := closedNotice(ts, netip.MustParseAddr("127.0.0.2")); got != "[09:05:07] Connection with 127.0.0.2 closed" {
		t.Errorf("unexpected notice %q", got)
	}
}
