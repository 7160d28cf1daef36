// Package diff renders line-level changes between two versions of a file.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Op string

const (
	OpContext Op = "context"
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
)

// Line is one line of a diff. OldLine and NewLine are 1-based and zero
// on the side the line does not exist in.
type Line struct {
	Op      Op     `json:"op"`
	Text    string `json:"text"`
	OldLine int    `json:"oldLine,omitempty"`
	NewLine int    `json:"newLine,omitempty"`
}

// Hunk is a run of changed lines with their surrounding context.
type Hunk struct {
	Lines []Line `json:"lines"`
}

const (
	contextLines = 3
	// MaxLines caps the combined line count Hunks is willing to diff.
	MaxLines = 5000
)

// Lines returns every line of before and after, marked as kept, added or
// removed.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var out []Line
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				out = append(out, Line{Op: OpContext, Text: text, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				out = append(out, Line{Op: OpRemove, Text: text, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				out = append(out, Line{Op: OpAdd, Text: text, NewLine: newLine})
				newLine++
			}
		}
	}
	return out
}

// Hunks groups the changes between before and after, keeping up to three
// lines of context around each change. Identical inputs have no hunks.
// Inputs over MaxLines lines are not diffed and report truncated.
func Hunks(before, after string) (hunks []Hunk, truncated bool) {
	if lineCount(before)+lineCount(after) > MaxLines {
		return nil, true
	}

	lines := Lines(before, after)
	end := 0
	for i, l := range lines {
		if l.Op == OpContext {
			continue
		}
		lo := max(i-contextLines, 0)
		hi := min(i+contextLines+1, len(lines))
		if len(hunks) > 0 && lo <= end {
			last := &hunks[len(hunks)-1]
			last.Lines = append(last.Lines, lines[end:hi]...)
		} else {
			hunks = append(hunks, Hunk{Lines: append([]Line(nil), lines[lo:hi]...)})
		}
		end = hi
	}
	return hunks, false
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
