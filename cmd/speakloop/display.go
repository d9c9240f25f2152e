package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/tiger/speakloop/api/pipeline"
)

// terminalDisplay renders pipeline updates as styled lines. In live mode
// partial transcripts overwrite the current line.
type terminalDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	live    bool
	pending bool

	status      lipgloss.Style
	partial     lipgloss.Style
	final       lipgloss.Style
	translation lipgloss.Style
	busy        lipgloss.Style
	failure     lipgloss.Style
}

func newTerminalDisplay(out io.Writer) *terminalDisplay {
	r := lipgloss.NewRenderer(out)
	return &terminalDisplay{
		out:         out,
		live:        isTerminal(out),
		status:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("#25A065")),
		partial:     r.NewStyle().Foreground(lipgloss.Color("240")),
		final:       r.NewStyle().Foreground(lipgloss.Color("#FFFDF5")),
		translation: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff8800")),
		busy:        r.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		failure:     r.NewStyle().Foreground(lipgloss.Color("#FF0000")),
	}
}

func (d *terminalDisplay) ShowStatus(status pipeline.Status) {
	label := map[pipeline.Status]string{
		pipeline.StatusReady:       "ready (press Enter to speak)",
		pipeline.StatusListening:   "listening (press Enter to stop)",
		pipeline.StatusUnavailable: "speech recognition unavailable",
	}[status]
	d.line(d.status.Render("● " + label))
}

func (d *terminalDisplay) ShowTranscript(text string, final bool) {
	if !final {
		if !d.live {
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		fmt.Fprint(d.out, "\r\033[K"+d.partial.Render("  "+text))
		d.pending = true
		return
	}
	if strings.TrimSpace(text) == "" {
		d.line(d.partial.Render("  (nothing recognized)"))
		return
	}
	d.line(d.final.Render("  you: " + text))
}

func (d *terminalDisplay) ShowTranslation(text string) {
	if text == "" {
		return
	}
	d.line(d.translation.Render("  → " + text))
}

func (d *terminalDisplay) ShowBusy(busy bool) {
	if busy {
		d.line(d.busy.Render("  translating…"))
	}
}

func (d *terminalDisplay) ShowFailure(err error) {
	d.line(d.failure.Render("  ! " + pipeline.Message(err)))
}

// note prints an informational line through the same writer lock, so it
// never lands inside a live partial line.
func (d *terminalDisplay) note(s string) {
	d.line(d.partial.Render(s))
}

func (d *terminalDisplay) line(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		fmt.Fprint(d.out, "\r\033[K")
		d.pending = false
	}
	fmt.Fprintln(d.out, s)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
