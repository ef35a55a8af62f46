package output

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"

	"github.com/vburojevic/valet/internal/bundle"
)

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skipStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle = lipgloss.NewStyle().Bold(true)
)

// TextWriter renders human-readable output.
type TextWriter struct {
	w     io.Writer
	color bool
}

// NewTextWriter creates a writer on w. Colour is used only when w is a
// terminal.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w, color: IsTerminal(w)}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (t *TextWriter) style(s lipgloss.Style, text string) string {
	if !t.color {
		return text
	}
	return s.Render(text)
}

// WriteBundle prints where a bundle was written and its identifying hashes.
func (t *TextWriter) WriteBundle(b *BundleOutput) error {
	fmt.Fprintf(t.w, "%s %s\n", t.style(labelStyle, "Bundle:"), b.Path)
	fmt.Fprintf(t.w, "  mode:         %s\n", b.Mode)
	fmt.Fprintf(t.w, "  id:           %s\n", b.ID)
	fmt.Fprintf(t.w, "  bundle_hash:  %s\n", b.BundleHash)
	if b.TranscriptHash != "" {
		fmt.Fprintf(t.w, "  transcript:   %s\n", b.TranscriptHash)
		fmt.Fprintf(t.w, "  events:       %d\n", b.Events)
	}
	if b.PayloadHash != "" {
		fmt.Fprintf(t.w, "  payload_hash: %s\n", b.PayloadHash)
	}
	signed := "no"
	if b.Signed {
		signed = "yes (" + b.KeyID + ")"
	}
	_, err := fmt.Fprintf(t.w, "  signed:       %s\n", signed)
	return err
}

// WriteReport prints a verification report as a table.
func (t *TextWriter) WriteReport(r *bundle.Report) error {
	verdict := t.style(passStyle, "PASS")
	if !r.OK {
		verdict = t.style(failStyle, "FAIL")
	}
	fmt.Fprintf(t.w, "%s %s (%s)\n", verdict, r.Path, r.Mode)

	table := tablewriter.NewWriter(t.w)
	table.Header("Check", "Status", "Detail")
	for _, c := range r.Checks {
		if err := table.Append([]string{c.Name, t.status(c.Status), c.Detail}); err != nil {
			return err
		}
	}
	return table.Render()
}

func (t *TextWriter) status(s bundle.Status) string {
	switch s {
	case bundle.StatusPass:
		return t.style(passStyle, string(s))
	case bundle.StatusFail:
		return t.style(failStyle, string(s))
	default:
		return t.style(skipStyle, string(s))
	}
}

// WriteError prints "Error [CODE]: message (hint: ...)".
func (t *TextWriter) WriteError(code, message string, hint ...string) error {
	fmt.Fprintf(t.w, "%s [%s]: %s", t.style(failStyle, "Error"), code, message)
	if len(hint) > 0 && hint[0] != "" {
		fmt.Fprintf(t.w, " (hint: %s)", hint[0])
	}
	_, err := fmt.Fprintln(t.w)
	return err
}
