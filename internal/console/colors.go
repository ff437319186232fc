package console

import (
	"hash/fnv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// palette holds the eight colours senders are spread across. Plain red is
// left out so chat lines do not look like errors.
var palette = []lipgloss.Color{
	lipgloss.Color("2"),  // green
	lipgloss.Color("3"),  // yellow
	lipgloss.Color("4"),  // blue
	lipgloss.Color("5"),  // magenta
	lipgloss.Color("6"),  // cyan
	lipgloss.Color("10"), // bright green
	lipgloss.Color("12"), // bright blue
	lipgloss.Color("13"), // bright magenta
}

// Colors assigns each sender name a palette colour. The assignment is a hash
// of the name, so every node shows a given sender in the same colour.
type Colors struct {
	mu    sync.Mutex
	cache map[string]lipgloss.Color
}

func NewColors() *Colors {
	return &Colors{cache: make(map[string]lipgloss.Color)}
}

func (c *Colors) For(name string) lipgloss.Color {
	c.mu.Lock()
	defer c.mu.Unlock()

	if color, ok := c.cache[name]; ok {
		return color
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	color := palette[h.Sum32()%uint32(len(palette))]
	c.cache[name] = color
	return color
}

// SenderName extracts name from a "HH:MM:SS [name] text" line.
func SenderName(line string) (string, bool) {
	open := strings.IndexByte(line, '[')
	if open < 0 {
		return "", false
	}
	end := strings.IndexByte(line[open+1:], ']')
	if end <= 0 {
		return "", false
	}
	return line[open+1 : open+1+end], true
}
