// Package cli provides the command-line interface for the trading application.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// ANSI styles applied when writing to a terminal.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
)

// Output writes command results either as human-readable text with
// optional color, or as JSON when the --json flag is set.
type Output struct {
	w     io.Writer
	json  bool
	color bool
}

// NewOutput builds an Output from the command's flags and writer.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		w:     cmd.OutOrStdout(),
		json:  jsonMode,
		color: !jsonMode && stdoutIsTerminal(),
	}
}

func stdoutIsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// IsJSON reports whether machine-readable output was requested.
func (o *Output) IsJSON() bool { return o.json }

// JSON writes data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Println writes its arguments followed by a newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.w, args...)
}

// Printf writes a formatted string.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.w, format, args...)
}

// paint wraps text in an ANSI style when color is enabled.
func (o *Output) paint(style, text string) string {
	if !o.color || text == "" {
		return text
	}
	return style + text + ansiReset
}

func (o *Output) styledLine(style, format string, args ...interface{}) {
	fmt.Fprintln(o.w, o.paint(style, fmt.Sprintf(format, args...)))
}

// Success writes a green line.
func (o *Output) Success(format string, args ...interface{}) {
	o.styledLine(ansiGreen, format, args...)
}

// Error writes a red line.
func (o *Output) Error(format string, args ...interface{}) {
	o.styledLine(ansiRed, format, args...)
}

// Warning writes a yellow line.
func (o *Output) Warning(format string, args ...interface{}) {
	o.styledLine(ansiYellow, format, args...)
}

// Info writes a cyan line.
func (o *Output) Info(format string, args ...interface{}) {
	o.styledLine(ansiCyan, format, args...)
}

// Bold writes a bold line.
func (o *Output) Bold(format string, args ...interface{}) {
	o.styledLine(ansiBold, format, args...)
}

// Dim writes a dimmed line.
func (o *Output) Dim(format string, args ...interface{}) {
	o.styledLine(ansiDim, format, args...)
}

// FormatPnL renders a signed amount, green for gains, red for losses.
func (o *Output) FormatPnL(pnl float64) string {
	return o.paint(gainLossStyle(pnl), FormatPnL(pnl))
}

// FormatPercent renders a signed percentage, colored like FormatPnL.
func (o *Output) FormatPercent(pct float64) string {
	return o.paint(gainLossStyle(pct), FormatPercent(pct))
}

// SideText colors a position side: LONG green, SHORT red.
func (o *Output) SideText(side string) string {
	switch side {
	case "LONG":
		return o.paint(ansiGreen, side)
	case "SHORT":
		return o.paint(ansiRed, side)
	default:
		return side
	}
}

func gainLossStyle(v float64) string {
	switch {
	case v > 0:
		return ansiGreen
	case v < 0:
		return ansiRed
	default:
		return ansiDim
	}
}

// Alignment selects how a table column is padded.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Table renders rows of aligned columns under a header rule. Column
// widths grow as rows are added; color codes never skew the padding.
type Table struct {
	out     *Output
	headers []string
	align   []Alignment
	widths  []int
	rows    [][]string
}

// NewTable creates a table with left-aligned columns.
func NewTable(out *Output, headers ...string) *Table {
	t := &Table{
		out:     out,
		headers: headers,
		align:   make([]Alignment, len(headers)),
		widths:  make([]int, len(headers)),
	}
	for i, h := range headers {
		t.widths[i] = visibleWidth(h)
	}
	return t
}

// AlignRightColumns right-aligns the columns with the given headers.
func (t *Table) AlignRightColumns(names ...string) *Table {
	for _, name := range names {
		for i, h := range t.headers {
			if h == name {
				t.align[i] = AlignRight
			}
		}
	}
	return t
}

// AddRow appends one row, growing column widths as needed. Cells
// beyond the header count are dropped.
func (t *Table) AddRow(cells ...string) {
	if len(cells) > len(t.headers) {
		cells = cells[:len(t.headers)]
	}
	for i, cell := range cells {
		if w := visibleWidth(cell); w > t.widths[i] {
			t.widths[i] = w
		}
	}
	t.rows = append(t.rows, cells)
}

// Render writes the header, a rule and every row.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	head := make([]string, len(t.headers))
	for i, h := range t.headers {
		head[i] = t.out.paint(ansiBold, t.pad(h, i))
	}
	t.out.Println(strings.Join(head, "  "))

	rule := make([]string, len(t.widths))
	for i, w := range t.widths {
		rule[i] = strings.Repeat("─", w)
	}
	t.out.Println(t.out.paint(ansiDim, strings.Join(rule, "──")))

	for _, row := range t.rows {
		line := make([]string, len(row))
		for i, cell := range row {
			line[i] = t.pad(cell, i)
		}
		t.out.Println(strings.Join(line, "  "))
	}
}

func (t *Table) pad(cell string, col int) string {
	gap := t.widths[col] - visibleWidth(cell)
	if gap <= 0 {
		return cell
	}
	fill := strings.Repeat(" ", gap)
	if t.align[col] == AlignRight {
		return fill + cell
	}
	return cell + fill
}

// visibleWidth measures a string without its ANSI escape sequences.
func visibleWidth(s string) int {
	width := 0
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\033':
			inEscape = true
		default:
			width++
		}
	}
	return width
}
