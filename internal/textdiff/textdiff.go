// Package textdiff renders line-oriented differences between two texts.
package textdiff

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// Op classifies a diff line.
type Op int8

// Line operations.
const (
	Equal Op = iota
	Insert
	Delete
)

// Line is one line of a diff, without its terminator.
type Line struct {
	Op   Op
	Text string
}

// Lines diffs from against to line by line.
func Lines(from, to string) []Line {
	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out []Line
	for _, d := range diffs {
		op := Equal
		switch d.Type {
		case diffpatch.DiffInsert:
			op = Insert
		case diffpatch.DiffDelete:
			op = Delete
		}
		for _, l := range splitLines(d.Text) {
			out = append(out, Line{Op: op, Text: l})
		}
	}
	return out
}

// Changed reports whether any line differs.
func Changed(lines []Line) bool {
	for _, l := range lines {
		if l.Op != Equal {
			return true
		}
	}
	return false
}

// splitLines splits s into lines. A missing final newline still ends a line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// Printer writes unified-style diffs with optional colour.
type Printer struct {
	// Context is the number of unchanged lines shown around each change.
	Context int
	// Color enables ANSI colours.
	Color bool
}

// Print writes the diff between from and to, labelled with the two names.
// Nothing is written when the texts are equal. It reports whether anything
// differed.
func (p Printer) Print(w io.Writer, fromName, toName, from, to string) (bool, error) {
	lines := Lines(from, to)
	if !Changed(lines) {
		return false, nil
	}

	add := color.New(color.FgGreen)
	del := color.New(color.FgRed)
	hdr := color.New(color.Bold)
	for _, c := range []*color.Color{add, del, hdr} {
		if p.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	var b strings.Builder
	b.WriteString(hdr.Sprintf("--- %s", fromName) + "\n")
	b.WriteString(hdr.Sprintf("+++ %s", toName) + "\n")

	show := p.visible(lines)
	skipped := false
	for i, l := range lines {
		if !show[i] {
			skipped = true
			continue
		}
		if skipped {
			b.WriteString("...\n")
			skipped = false
		}
		switch l.Op {
		case Insert:
			b.WriteString(add.Sprint("+"+l.Text) + "\n")
		case Delete:
			b.WriteString(del.Sprint("-"+l.Text) + "\n")
		default:
			b.WriteString(" " + l.Text + "\n")
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return true, fmt.Errorf("writing diff: %w", err)
	}
	return true, nil
}

// visible marks the lines within Context of a change.
func (p Printer) visible(lines []Line) []bool {
	show := make([]bool, len(lines))
	for i, l := range lines {
		if l.Op == Equal {
			continue
		}
		lo := max(0, i-p.Context)
		hi := min(len(lines)-1, i+p.Context)
		for j := lo; j <= hi; j++ {
			show[j] = true
		}
	}
	return show
}
