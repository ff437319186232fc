// Package console renders chat lines for the user and turns typed lines into
// node commands.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Console writes to a terminal. Colour is dropped automatically when out is
// not a terminal.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *lipgloss.Renderer
	colors   *Colors

	notice lipgloss.Style
	plain  lipgloss.Style
}

func New(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:      out,
		renderer: r,
		colors:   NewColors(),
		notice:   r.NewStyle().Faint(true),
		plain:    r.NewStyle(),
	}
}

// Chat prints a chat line in its sender's colour.
func (c *Console) Chat(line string) {
	style := c.plain
	if name, ok := SenderName(line); ok {
		style = c.renderer.NewStyle().Foreground(c.colors.For(name))
	}
	c.println(style.Render(line))
}

// Notice prints connection events and other status lines.
func (c *Console) Notice(line string) {
	c.println(c.notice.Render(line))
}

func (c *Console) Printf(format string, args ...any) {
	c.println(c.plain.Render(fmt.Sprintf(format, args...)))
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}
