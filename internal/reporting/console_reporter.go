package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"stackctl/pkg/logging"
)

// ConsoleReporter prints one styled line per update and mirrors it to the debug log.
type ConsoleReporter struct {
	mu     sync.Mutex
	out    io.Writer
	styles Styles
}

// NewConsoleReporter creates a reporter writing to out. Colors follow the
// capabilities of out, so redirected output stays plain.
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{
		out:    out,
		styles: NewStyles(lipgloss.NewRenderer(out)),
	}
}

// Report writes the update.
func (c *ConsoleReporter) Report(update Update) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}

	subsystem := "Report"
	if update.Phase != "" {
		subsystem = update.Phase
	}
	switch {
	case update.Err != nil:
		logging.Debug(subsystem, "%s %s: %s (%v)", update.Subject, update.State, update.Message, update.Err)
	default:
		logging.Debug(subsystem, "%s %s: %s", update.Subject, update.State, update.Message)
	}

	line := c.styles.Symbol(update.State) + " " + c.styles.Subject.Render(update.Subject)
	if update.Message != "" {
		line += " " + update.Message
	}
	if update.Err != nil {
		line += " " + c.styles.Error.Render(update.Err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// Banner prints a section heading.
func (c *ConsoleReporter) Banner(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.styles.Banner.Render(title))
}

// Println prints a plain line.
func (c *ConsoleReporter) Println(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}
