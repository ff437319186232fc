package history

import "strings"

// Batches joins lines with "\n" into payloads no longer than max bytes. A
// line longer than max on its own is returned as its own batch; the encoder
// rejects it. An empty snapshot yields no batches.
func Batches(lines []string, max int) []string {
	var (
		out []string
		b   strings.Builder
	)

	for _, line := range lines {
		if b.Len() > 0 && b.Len()+1+len(line) > max {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// Lines splits a History payload back into its non-empty lines.
func Lines(payload string) []string {
	parts := strings.Split(payload, "\n")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
