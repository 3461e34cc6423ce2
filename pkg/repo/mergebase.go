package repo

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/odvcencio/metagraft/pkg/object"
)

// mergeBaseState memoizes commits, generation numbers and answered pairs
// for the lifetime of a Repo handle.
type mergeBaseState struct {
	mu          sync.RWMutex
	commits     map[object.Hash]*object.CommitObj
	generations map[object.Hash]uint64
	bases       map[[2]object.Hash]object.Hash
}

func newMergeBaseState() *mergeBaseState {
	return &mergeBaseState{
		commits:     make(map[object.Hash]*object.CommitObj),
		generations: make(map[object.Hash]uint64),
		bases:       make(map[[2]object.Hash]object.Hash),
	}
}

func pairKey(a, b object.Hash) [2]object.Hash {
	if a <= b {
		return [2]object.Hash{a, b}
	}
	return [2]object.Hash{b, a}
}

func (s *mergeBaseState) commit(r *Repo, h object.Hash) (*object.CommitObj, error) {
	s.mu.RLock()
	c, ok := s.commits[h]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return nil, fmt.Errorf("merge base: read commit %s: %w", h, err)
	}
	s.mu.Lock()
	s.commits[h] = c
	s.mu.Unlock()
	return c, nil
}

// generation is 1 for a root commit and 1 + max(parent generations)
// otherwise. Computed iteratively so long histories do not grow the stack.
func (s *mergeBaseState) generation(r *Repo, h object.Hash) (uint64, error) {
	s.mu.RLock()
	g, ok := s.generations[h]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}

	stack := []object.Hash{h}
	onStack := map[object.Hash]bool{h: true}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		c, err := s.commit(r, cur)
		if err != nil {
			return 0, err
		}
		var maxParent uint64
		pending := false
		for _, p := range c.Parents {
			s.mu.RLock()
			pg, done := s.generations[p]
			s.mu.RUnlock()
			if done {
				if pg > maxParent {
					maxParent = pg
				}
				continue
			}
			if onStack[p] {
				return 0, fmt.Errorf("merge base: commit graph cycle detected at %s", p)
			}
			stack = append(stack, p)
			onStack[p] = true
			pending = true
		}
		if pending {
			continue
		}
		s.mu.Lock()
		s.generations[cur] = maxParent + 1
		s.mu.Unlock()
		stack = stack[:len(stack)-1]
		delete(onStack, cur)
	}

	s.mu.RLock()
	g = s.generations[h]
	s.mu.RUnlock()
	return g, nil
}

// IsAncestor reports whether ancestor is reachable from descendant
// (a commit is its own ancestor).
func (r *Repo) IsAncestor(ancestor, descendant object.Hash) (bool, error) {
	if ancestor == "" || descendant == "" {
		return false, nil
	}
	if ancestor == descendant {
		return true, nil
	}
	s := r.getMergeBaseState()
	ga, err := s.generation(r, ancestor)
	if err != nil {
		return false, err
	}

	visited := map[object.Hash]bool{descendant: true}
	queue := []object.Hash{descendant}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == ancestor {
			return true, nil
		}
		g, err := s.generation(r, cur)
		if err != nil {
			return false, err
		}
		if g <= ga {
			continue
		}
		c, err := s.commit(r, cur)
		if err != nil {
			return false, err
		}
		for _, p := range c.Parents {
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// FindMergeBase returns the nearest common ancestor of a and b, or "" when
// the histories are unrelated. Among several best candidates the one with
// the highest generation (then the smallest hash) wins.
func (r *Repo) FindMergeBase(a, b object.Hash) (object.Hash, error) {
	if a == "" || b == "" {
		return "", nil
	}
	if a == b {
		return a, nil
	}
	s := r.getMergeBaseState()
	key := pairKey(a, b)
	s.mu.RLock()
	cached, ok := s.bases[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	base, err := r.findMergeBase(s, a, b)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.bases[key] = base
	s.mu.Unlock()
	return base, nil
}

const (
	paintA = 1 << iota
	paintB
)

// findMergeBase walks both histories newest-generation first, painting each
// commit with the side(s) that reach it. The first commit painted by both
// sides is a common ancestor with maximal generation.
func (r *Repo) findMergeBase(s *mergeBaseState, a, b object.Hash) (object.Hash, error) {
	paint := map[object.Hash]int{}
	q := &generationHeap{}

	push := func(h object.Hash, side int) error {
		prev, seen := paint[h]
		paint[h] = prev | side
		if seen && prev|side == prev {
			return nil
		}
		g, err := s.generation(r, h)
		if err != nil {
			return err
		}
		heap.Push(q, generationItem{hash: h, generation: g})
		return nil
	}
	if err := push(a, paintA); err != nil {
		return "", err
	}
	if err := push(b, paintB); err != nil {
		return "", err
	}

	var best object.Hash
	var bestGen uint64
	for q.Len() > 0 {
		item := heap.Pop(q).(generationItem)
		if best != "" && item.generation < bestGen {
			break
		}
		side := paint[item.hash]
		if side == paintA|paintB {
			if best == "" || item.hash < best {
				best, bestGen = item.hash, item.generation
			}
			continue
		}
		c, err := s.commit(r, item.hash)
		if err != nil {
			return "", err
		}
		for _, p := range c.Parents {
			if err := push(p, side); err != nil {
				return "", err
			}
		}
	}
	return best, nil
}

type generationItem struct {
	hash       object.Hash
	generation uint64
}

type generationHeap []generationItem

func (h generationHeap) Len() int { return len(h) }
func (h generationHeap) Less(i, j int) bool {
	if h[i].generation == h[j].generation {
		return h[i].hash < h[j].hash
	}
	return h[i].generation > h[j].generation
}
func (h generationHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *generationHeap) Push(x any)   { *h = append(*h, x.(generationItem)) }
func (h *generationHeap) Pop() any {
	old := *h
	item := old[len(old)-1]
	*h = old[:len(old)-1]
	return item
}
