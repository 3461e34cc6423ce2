// Package diff3 provides line-oriented two-way diffs and three-way merges
// over byte content.
package diff3

import (
	"bytes"
	"strings"
)

// Labels names the two sides in conflict markers.
type Labels struct {
	Ours, Theirs string
}

// Result holds the outcome of a three-way merge.
type Result struct {
	Merged       []byte // Full merged content (with conflict markers if conflicts exist).
	HasConflicts bool
	Conflicts    int // number of conflicting regions
}

// DiffLine is a single line in the output of LineDiff.
type DiffLine struct {
	Type    DiffType
	Content string
}

// LineDiff computes a line-level diff between byte slices a and b.
func LineDiff(a, b []byte) []DiffLine {
	ops := MyersDiff(SplitLines(a), SplitLines(b))
	result := make([]DiffLine, len(ops))
	for i, op := range ops {
		result[i] = DiffLine{Type: op.Type, Content: op.Line}
	}
	return result
}

// SplitLines splits content into lines. A trailing newline does not produce
// an extra empty element.
func SplitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// edit replaces base[start:end) with lines. start == end is a pure insertion.
type edit struct {
	start, end int
	lines      []string
}

func (e edit) insertion() bool { return e.start == e.end }

// editsFor collapses the edit script base -> side into replacement regions.
func editsFor(base, side []string) []edit {
	ops := MyersDiff(base, side)
	var out []edit
	pos := 0
	for i := 0; i < len(ops); {
		if ops[i].Type == Equal {
			pos++
			i++
			continue
		}
		e := edit{start: pos}
		for ; i < len(ops) && ops[i].Type != Equal; i++ {
			if ops[i].Type == Delete {
				pos++
			} else {
				e.lines = append(e.lines, ops[i].Line)
			}
		}
		e.end = pos
		out = append(out, e)
	}
	return out
}

// Merge performs a three-way merge of base, ours, and theirs.
//
// Edits from both sides are swept in base order. Edits whose base ranges
// overlap (or touch, when either is an insertion) form one region; a region
// touched by one side takes that side, a region both sides rewrote
// identically is clean, anything else is a conflict.
func Merge(base, ours, theirs []byte, labels Labels) Result {
	if labels.Ours == "" {
		labels.Ours = "ours"
	}
	if labels.Theirs == "" {
		labels.Theirs = "theirs"
	}

	baseLines := SplitLines(base)
	oe := editsFor(baseLines, SplitLines(ours))
	te := editsFor(baseLines, SplitLines(theirs))

	var out bytes.Buffer
	res := Result{}
	pos, oi, ti := 0, 0, 0

	for oi < len(oe) || ti < len(te) {
		var first edit
		if ti >= len(te) || (oi < len(oe) && oe[oi].start <= te[ti].start) {
			first = oe[oi]
		} else {
			first = te[ti]
		}
		regionStart, regionEnd := first.start, first.end

		var oursGroup, theirsGroup []edit
		for {
			grew := false
			if oi < len(oe) && overlaps(oe[oi], regionStart, regionEnd) {
				oursGroup = append(oursGroup, oe[oi])
				regionEnd = maxInt(regionEnd, oe[oi].end)
				oi++
				grew = true
			}
			if ti < len(te) && overlaps(te[ti], regionStart, regionEnd) {
				theirsGroup = append(theirsGroup, te[ti])
				regionEnd = maxInt(regionEnd, te[ti].end)
				ti++
				grew = true
			}
			if !grew {
				break
			}
		}

		writeLines(&out, baseLines[pos:regionStart])
		oursRegion := applyEdits(baseLines, regionStart, regionEnd, oursGroup)
		theirsRegion := applyEdits(baseLines, regionStart, regionEnd, theirsGroup)

		switch {
		case len(theirsGroup) == 0:
			writeLines(&out, oursRegion)
		case len(oursGroup) == 0:
			writeLines(&out, theirsRegion)
		case linesEqual(oursRegion, theirsRegion):
			writeLines(&out, oursRegion)
		default:
			res.HasConflicts = true
			res.Conflicts++
			out.WriteString("<<<<<<< " + labels.Ours + "\n")
			writeLines(&out, oursRegion)
			out.WriteString("=======\n")
			writeLines(&out, theirsRegion)
			out.WriteString(">>>>>>> " + labels.Theirs + "\n")
		}
		pos = regionEnd
	}
	writeLines(&out, baseLines[pos:])

	res.Merged = out.Bytes()
	return res
}

func overlaps(e edit, start, end int) bool {
	if e.start < end {
		return true
	}
	return e.start == end && (e.insertion() || start == end)
}

func applyEdits(base []string, start, end int, edits []edit) []string {
	var out []string
	cur := start
	for _, e := range edits {
		out = append(out, base[cur:e.start]...)
		out = append(out, e.lines...)
		cur = e.end
	}
	return append(out, base[cur:end]...)
}

func writeLines(buf *bytes.Buffer, lines []string) {
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
