package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// styles are the text styles of human-readable output. The zero-value
// styles render plain text.
type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	path  lipgloss.Style
	score lipgloss.Style
	muted lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")),
		path:  lipgloss.NewStyle().Bold(true),
		score: lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
		muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		err:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printer writes command output as styled text, plain text when the
// output is not a terminal, or JSON.
type printer struct {
	w    io.Writer
	json bool
	st   styles
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{w: w, json: asJSON, st: newStyles(!asJSON && isTerminal(w))}
}

// JSON writes v as indented JSON.
func (p *printer) JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

func (p *printer) Title(s string) {
	fmt.Fprintln(p.w, p.st.title.Render(s))
}

// Field prints an aligned "label: value" line.
func (p *printer) Field(label string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.st.label.Render(fmt.Sprintf("%-18s", label+":")), value)
}

func (p *printer) OK(msg string) {
	fmt.Fprintf(p.w, "%s %s\n", p.st.ok.Render("✓"), msg)
}

func (p *printer) Error(err error) {
	fmt.Fprintf(p.w, "%s %v\n", p.st.err.Render("✗"), err)
}

func (p *printer) Blank() {
	fmt.Fprintln(p.w)
}

// Block prints text indented, in the muted style.
func (p *printer) Block(text string, indent int) {
	pad := strings.Repeat(" ", indent)
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintln(p.w, pad+p.st.muted.Render(line))
	}
}

func (p *printer) Heading(path, detail string) {
	fmt.Fprintf(p.w, "%s %s\n", p.st.path.Render(path), p.st.score.Render(detail))
}
