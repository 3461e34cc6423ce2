package diff3

// DiffType classifies a line in an edit script.
type DiffType int

const (
	Equal DiffType = iota
	Insert
	Delete
)

// DiffOp is one line of an edit script.
type DiffOp struct {
	Type DiffType
	Line string
}

// MyersDiff returns a shortest line edit script turning a into b. Inside a
// run of changed lines, deletions come before insertions.
func MyersDiff(a, b []string) []DiffOp {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	prefix := commonPrefix(a, b)
	suffix := commonSuffix(a[prefix:], b[prefix:])

	ops := make([]DiffOp, 0, len(a)+len(b)-prefix-suffix)
	ops = appendRun(ops, Equal, a[:prefix])
	ops = appendMiddle(ops, a[prefix:len(a)-suffix], b[prefix:len(b)-suffix])
	return appendRun(ops, Equal, a[len(a)-suffix:])
}

func commonPrefix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

func appendRun(ops []DiffOp, t DiffType, lines []string) []DiffOp {
	for _, line := range lines {
		ops = append(ops, DiffOp{Type: t, Line: line})
	}
	return ops
}

// appendMiddle diffs the region between the common prefix and suffix.
func appendMiddle(ops []DiffOp, a, b []string) []DiffOp {
	switch {
	case len(a) == 0:
		return appendRun(ops, Insert, b)
	case len(b) == 0:
		return appendRun(ops, Delete, a)
	}

	ia, ib := intern(a, b)
	var dels, ins []string
	flush := func() {
		ops = appendRun(ops, Delete, dels)
		ops = appendRun(ops, Insert, ins)
		dels, ins = dels[:0], ins[:0]
	}
	x, y := 0, 0
	for _, t := range shortestEdit(ia, ib) {
		switch t {
		case Equal:
			flush()
			ops = append(ops, DiffOp{Type: Equal, Line: a[x]})
			x++
			y++
		case Delete:
			dels = append(dels, a[x])
			x++
		case Insert:
			ins = append(ins, b[y])
			y++
		}
	}
	flush()
	return ops
}

// intern maps lines to small integers so the search compares ints.
func intern(a, b []string) ([]int, []int) {
	ids := make(map[string]int, len(a)+len(b))
	conv := func(lines []string) []int {
		out := make([]int, len(lines))
		for i, line := range lines {
			id, ok := ids[line]
			if !ok {
				id = len(ids)
				ids[line] = id
			}
			out[i] = id
		}
		return out
	}
	return conv(a), conv(b)
}

// shortestEdit runs the Myers forward search, keeping the furthest-reaching
// x per diagonal before each round, then walks the rounds backwards.
func shortestEdit(a, b []int) []DiffType {
	n, m := len(a), len(b)
	offset := n + m
	v := make([]int, 2*offset+2)
	var rounds [][]int

	for d := 0; d <= offset; d++ {
		rounds = append(rounds, append([]int(nil), v...))
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				return walkBack(rounds, n, m, offset)
			}
		}
	}
	return nil
}

func walkBack(rounds [][]int, n, m, offset int) []DiffType {
	script := make([]DiffType, 0, n+m)
	x, y := n, m
	for d := len(rounds) - 1; d >= 0; d-- {
		v := rounds[d]
		k := x - y
		prevK := k - 1
		if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
			prevK = k + 1
		}
		prevX := v[offset+prevK]
		prevY := prevX - prevK
		for x > prevX && y > prevY {
			x--
			y--
			script = append(script, Equal)
		}
		if d == 0 {
			break
		}
		if x == prevX {
			script = append(script, Insert)
		} else {
			script = append(script, Delete)
		}
		x, y = prevX, prevY
	}
	for i, j := 0, len(script)-1; i < j; i, j = i+1, j-1 {
		script[i], script[j] = script[j], script[i]
	}
	return script
}
