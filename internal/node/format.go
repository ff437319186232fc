package node

import (
	"fmt"
	"net/netip"
	"time"
)

const TimeLayout = "15:04:05"

// FormatLine renders a chat line as "HH:MM:SS [name] text".
func FormatLine(t time.Time, name, text string) string {
	return fmt.Sprintf("%s [%s] %s", t.Format(TimeLayout), name, text)
}

func closedNotice(t time.Time, addr netip.Addr) string {
	return fmt.Sprintf("[%s] Connection with %s closed", t.Format(TimeLayout), addr)
}
