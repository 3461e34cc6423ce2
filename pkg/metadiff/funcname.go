package metadiff

import (
	"bytes"
	"sort"

	"github.com/odvcencio/gotreesitter/grammars"
	classify "github.com/odvcencio/gts-suite/pkg/lang/treesitter"
)

// maxFuncnameLen bounds the text appended to a hunk header.
const maxFuncnameLen = 80

type declSpan struct {
	startLine int // 1-based
	heading   string
}

// funcnameIndex locates the enclosing top-level declaration for a line of
// the old side of a file.
type funcnameIndex struct {
	spans []declSpan
}

// buildFuncnameIndex parses source with the grammar matching filename. It
// returns nil for unsupported languages, empty input and parse failures;
// a nil index yields no context.
func buildFuncnameIndex(filename string, source []byte) *funcnameIndex {
	if len(source) == 0 || grammars.DetectLanguage(filename) == nil {
		return nil
	}
	bt, err := grammars.ParseFile(filename, source)
	if err != nil {
		return nil
	}
	defer bt.Release()

	root := bt.RootNode()
	idx := &funcnameIndex{}
	for i := 0; i < root.ChildCount(); i++ {
		child := root.Child(i)
		if child == nil || !child.IsNamed() {
			continue
		}
		nodeType := bt.NodeType(child)
		if !classify.DeclarationNodeTypes[nodeType] && nodeType != "export_statement" {
			continue
		}
		heading := firstLine(source[child.StartByte():child.EndByte()])
		if heading == "" {
			continue
		}
		idx.spans = append(idx.spans, declSpan{
			startLine: int(child.StartPoint().Row) + 1,
			heading:   heading,
		})
	}
	if len(idx.spans) == 0 {
		return nil
	}
	sort.Slice(idx.spans, func(i, j int) bool { return idx.spans[i].startLine < idx.spans[j].startLine })
	return idx
}

// lookup returns the heading of the last declaration starting strictly
// before line, the way git picks the funcname for a hunk.
func (f *funcnameIndex) lookup(line int) string {
	if f == nil {
		return ""
	}
	i := sort.Search(len(f.spans), func(i int) bool { return f.spans[i].startLine >= line })
	if i == 0 {
		return ""
	}
	return f.spans[i-1].heading
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	b = bytes.TrimRight(b, " \t\r")
	if len(b) > maxFuncnameLen {
		b = b[:maxFuncnameLen]
	}
	return string(b)
}
