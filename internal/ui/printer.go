package ui

import (
	"fmt"
	"io"
	"os"
)

// Printer writes UI components to a writer. Commands print through it so
// tests can capture their output.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a Printer. A nil w selects os.Stdout.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

// Width returns the rendering width.
func (p *Printer) Width() int {
	return p.width
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command banner.
func (p *Printer) PrintHeader(title, command string, params map[string]string) {
	p.Println(NewHeader(title, command, params).SetWidth(p.width).Render())
}

// PrintSuccess prints a success box.
func (p *Printer) PrintSuccess(title string, details map[string]string) {
	p.Println(NewSuccessResult(title, details).SetWidth(p.width).Render())
}

// PrintWarning prints a warning box.
func (p *Printer) PrintWarning(title string, details map[string]string) {
	p.Println(NewWarningResult(title, details).SetWidth(p.width).Render())
}

// PrintError prints a failure box with troubleshooting tips.
func (p *Printer) PrintError(title string, err error, troubleshooting []string) {
	p.Println(NewFailureResult(title, err, troubleshooting).SetWidth(p.width).Render())
}
