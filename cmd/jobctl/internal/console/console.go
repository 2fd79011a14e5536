// Package console renders the current job on a terminal: a progress bar, the
// toggle label, the status text and transient notices.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

const (
	barWidth   = 30
	clearLine  = "\r\x1b[2K"
	filledCell = "█"
	emptyCell  = "░"
)

// Sink implements jobs.Sink by redrawing a single status line on out.
type Sink struct {
	mu       sync.Mutex
	out      io.Writer
	max      int
	progress int
	label    string
	status   string

	barStyle    lipgloss.Style
	labelStyle  lipgloss.Style
	statusStyle lipgloss.Style
	toastStyle  lipgloss.Style
}

// New returns a Sink drawing a bar for values in [0, max].
func New(out io.Writer, max int) *Sink {
	r := lipgloss.NewRenderer(out)
	return &Sink{
		out:         out,
		max:         max,
		barStyle:    r.NewStyle().Foreground(lipgloss.Color("42")),
		labelStyle:  r.NewStyle().Bold(true),
		statusStyle: r.NewStyle().Foreground(lipgloss.Color("244")),
		toastStyle:  r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}

// SetMax changes the value drawn as a full bar.
func (s *Sink) SetMax(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = max
}

func (s *Sink) SetProgress(value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = value
	s.redraw()
}

func (s *Sink) SetButtonLabel(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = text
	s.redraw()
}

func (s *Sink) SetStatusText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = text
	s.redraw()
}

// ShowTransientMessage prints text on its own line above the status line.
func (s *Sink) ShowTransientMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s%s\n", clearLine, s.toastStyle.Render("» "+text))
	s.redraw()
}

// Println writes a line above the status line and redraws it.
func (s *Sink) Println(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, clearLine)
	fmt.Fprintln(s.out, a...)
	s.redraw()
}

// Line returns the status line without terminal control sequences.
func (s *Sink) Line() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.line()
}

func (s *Sink) redraw() {
	fmt.Fprint(s.out, clearLine+s.line())
}

func (s *Sink) line() string {
	filled := 0
	if s.max > 0 {
		filled = s.progress * barWidth / s.max
	}
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat(filledCell, filled) + strings.Repeat(emptyCell, barWidth-filled)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %3d/%d", s.barStyle.Render(bar), s.progress, s.max)
	if s.label != "" {
		fmt.Fprintf(&b, "  [%s]", s.labelStyle.Render(s.label))
	}
	if s.status != "" {
		fmt.Fprintf(&b, "  %s", s.statusStyle.Render(s.status))
	}
	return b.String()
}
