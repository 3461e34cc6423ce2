package metadiff

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/odvcencio/metagraft/pkg/diff3"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
)

// Format selects the diff output style.
type Format int

const (
	Patch Format = iota
	NameOnly
	NameStatus
	Raw
)

// DefaultContext is the number of unchanged lines around each hunk.
const DefaultContext = 3

const (
	zeroHash    = "000000000000"
	zeroMode    = "000000"
	binarySniff = 8000
)

// Renderer writes a repository diff in one of the supported formats.
type Renderer struct {
	Format  Format
	Context int
	// Prefix is prepended to every path, so a submodule's output reads in
	// the meta repository's path space.
	Prefix string
	// FuncContext appends the enclosing declaration to hunk headers.
	FuncContext bool
}

// Render writes every ordinary file delta of d. Submodule pointer entries,
// conflicted and untracked entries are not rendered.
func (rd Renderer) Render(w io.Writer, r *repo.Repo, d *repo.Diff) error {
	for _, delta := range d.Deltas {
		if delta.IsSubmodule() || delta.Status == repo.DeltaConflicted || delta.Status == repo.DeltaUntracked {
			continue
		}
		if err := rd.renderDelta(w, r, delta); err != nil {
			return err
		}
	}
	return nil
}

func (rd Renderer) renderDelta(w io.Writer, r *repo.Repo, d repo.Delta) error {
	oldPath, newPath := rd.Prefix+d.Old.Path, rd.Prefix+d.New.Path
	if d.Old.Path == "" {
		oldPath = newPath
	}
	if d.New.Path == "" {
		newPath = oldPath
	}

	switch rd.Format {
	case NameOnly:
		_, err := fmt.Fprintln(w, newPath)
		return err
	case NameStatus:
		if d.Status == repo.DeltaRenamed {
			_, err := fmt.Fprintf(w, "R100\t%s\t%s\n", oldPath, newPath)
			return err
		}
		_, err := fmt.Fprintf(w, "%s\t%s\n", d.Status.Letter(), newPath)
		return err
	case Raw:
		return rd.writeRaw(w, d, oldPath, newPath)
	}

	before, err := r.ReadDiffFile(d.Old)
	if err != nil {
		return err
	}
	after, err := r.ReadDiffFile(d.New)
	if err != nil {
		return err
	}
	if err := writeHeader(w, d, oldPath, newPath); err != nil {
		return err
	}
	if bytes.Equal(before, after) {
		return nil
	}
	if isBinary(before) || isBinary(after) {
		_, err := fmt.Fprintf(w, "Binary files %s and %s differ\n", sideName("a/", oldPath, d.Old.Path), sideName("b/", newPath, d.New.Path))
		return err
	}
	if _, err := fmt.Fprintf(w, "--- %s\n+++ %s\n", sideName("a/", oldPath, d.Old.Path), sideName("b/", newPath, d.New.Path)); err != nil {
		return err
	}
	var funcs *funcnameIndex
	if rd.FuncContext {
		funcs = buildFuncnameIndex(d.Old.Path, before)
	}
	return writeHunks(w, diff3.LineDiff(before, after), rd.context(), funcs)
}

func (rd Renderer) context() int {
	if rd.Context < 0 {
		return 0
	}
	return rd.Context
}

func (rd Renderer) writeRaw(w io.Writer, d repo.Delta, oldPath, newPath string) error {
	status := d.Status.Letter()
	paths := newPath
	if d.Status == repo.DeltaRenamed {
		status = "R100"
		paths = oldPath + "\t" + newPath
	}
	_, err := fmt.Fprintf(w, ":%s %s %s %s %s\t%s\n",
		orZero(d.Old.Mode, zeroMode), orZero(d.New.Mode, zeroMode),
		orZero(d.Old.Hash.Short(), zeroHash), orZero(d.New.Hash.Short(), zeroHash),
		status, paths)
	return err
}

func writeHeader(w io.Writer, d repo.Delta, oldPath, newPath string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "diff --graft a/%s b/%s\n", oldPath, newPath)
	switch {
	case d.Old.Path == "":
		fmt.Fprintf(&b, "new file mode %s\n", d.New.Mode)
	case d.New.Path == "":
		fmt.Fprintf(&b, "deleted file mode %s\n", d.Old.Mode)
	case d.Old.Mode != d.New.Mode:
		fmt.Fprintf(&b, "old mode %s\nnew mode %s\n", d.Old.Mode, d.New.Mode)
	}
	if d.Status == repo.DeltaRenamed {
		fmt.Fprintf(&b, "similarity index 100%%\nrename from %s\nrename to %s\n", oldPath, newPath)
	}
	if d.Old.Hash != d.New.Hash {
		fmt.Fprintf(&b, "index %s..%s", orZero(d.Old.Hash.Short(), zeroHash), orZero(d.New.Hash.Short(), zeroHash))
		if d.Old.Path != "" && d.New.Path != "" && d.Old.Mode == d.New.Mode {
			fmt.Fprintf(&b, " %s", d.New.Mode)
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func sideName(prefix, p, present string) string {
	if present == "" {
		return "/dev/null"
	}
	return prefix + p
}

func orZero(s, zero string) string {
	if s == "" {
		return zero
	}
	return s
}

func isBinary(b []byte) bool {
	if len(b) > binarySniff {
		b = b[:binarySniff]
	}
	return bytes.IndexByte(b, 0) >= 0
}

// RenderContent writes a patch comparing two byte slices outside any
// repository, as used for comparing two plain files.
func (rd Renderer) RenderContent(w io.Writer, oldName, newName string, before, after []byte) error {
	if bytes.Equal(before, after) {
		return nil
	}
	if _, err := fmt.Fprintf(w, "diff --graft a/%s b/%s\n", oldName, newName); err != nil {
		return err
	}
	if isBinary(before) || isBinary(after) {
		_, err := fmt.Fprintf(w, "Binary files a/%s and b/%s differ\n", oldName, newName)
		return err
	}
	if _, err := fmt.Fprintf(w, "--- a/%s\n+++ b/%s\n", oldName, newName); err != nil {
		return err
	}
	var funcs *funcnameIndex
	if rd.FuncContext {
		funcs = buildFuncnameIndex(oldName, before)
	}
	return writeHunks(w, diff3.LineDiff(before, after), rd.context(), funcs)
}

func writeHunks(w io.Writer, lines []diff3.DiffLine, context int, funcs *funcnameIndex) error {
	for _, h := range buildHunks(lines, context) {
		oldStart, oldCount, newStart, newCount := h.lineRange(lines)
		firstOld := oldStart
		if oldCount == 0 {
			firstOld++
		}
		header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", oldStart, oldCount, newStart, newCount)
		if fn := funcs.lookup(firstOld); fn != "" {
			header += " " + fn
		}
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}
		for _, dl := range lines[h.start:h.end] {
			var err error
			switch dl.Type {
			case diff3.Equal:
				_, err = fmt.Fprintf(w, " %s\n", dl.Content)
			case diff3.Insert:
				_, err = fmt.Fprintf(w, "+%s\n", dl.Content)
			case diff3.Delete:
				_, err = fmt.Fprintf(w, "-%s\n", dl.Content)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// hunk is a half-open range of diff lines.
type hunk struct {
	start int
	end   int
}

// buildHunks groups changed lines with their surrounding context, merging
// groups whose context windows touch.
func buildHunks(lines []diff3.DiffLine, context int) []hunk {
	var hunks []hunk
	for i, dl := range lines {
		if dl.Type == diff3.Equal {
			continue
		}
		start := max(i-context, 0)
		end := min(i+context+1, len(lines))
		if len(hunks) == 0 || start > hunks[len(hunks)-1].end {
			hunks = append(hunks, hunk{start: start, end: end})
			continue
		}
		if end > hunks[len(hunks)-1].end {
			hunks[len(hunks)-1].end = end
		}
	}
	return hunks
}

// lineRange returns the 1-based unified diff ranges covered by h. An empty
// side starts at the line before the change, as in unified diff output.
func (h hunk) lineRange(lines []diff3.DiffLine) (oldStart, oldCount, newStart, newCount int) {
	oldLine, newLine := 1, 1
	for _, dl := range lines[:h.start] {
		if dl.Type != diff3.Insert {
			oldLine++
		}
		if dl.Type != diff3.Delete {
			newLine++
		}
	}
	oldStart, newStart = oldLine, newLine
	for _, dl := range lines[h.start:h.end] {
		if dl.Type != diff3.Insert {
			oldCount++
		}
		if dl.Type != diff3.Delete {
			newCount++
		}
	}
	if oldCount == 0 {
		oldStart--
	}
	if newCount == 0 {
		newStart--
	}
	return oldStart, oldCount, newStart, newCount
}

// HashLabel renders a possibly empty commit id for summary lines.
func HashLabel(h object.Hash) string {
	return orZero(h.Short(), zeroHash)
}
