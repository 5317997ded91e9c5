// Package compaction decides which revisions keep their payloads and runs
// compaction in the background.
package compaction

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/revtree"
)

// Env is what a keep expression can see about one revision.
type Env struct {
	// Generation of the revision.
	Generation int
	// MaxGeneration is the highest generation in the record's tree.
	MaxGeneration int
	// Deleted is true for tombstones.
	Deleted bool
	// Leaf is true for revisions without children. Leaves are never
	// compacted whatever the expression says.
	Leaf bool
	// Depth is the number of edges to the nearest leaf below the revision.
	Depth int
}

// Policy keeps the payload of every revision its expression is true for.
//
//	Depth < 3                       // the last three revisions of each branch
//	MaxGeneration - Generation < 10 // the ten newest generations
type Policy struct {
	src string
	prg *vm.Program
}

// Compile parses and type checks a keep expression.
func Compile(src string) (*Policy, error) {
	prg, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid compaction policy %q: %w", src, err)
	}
	return &Policy{src: src, prg: prg}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Policy {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) String() string { return p.src }

// Keep evaluates the expression for every revision of t that still has its
// payload.
func (p *Policy) Keep(t *revtree.Tree) (map[models.RevisionID]bool, error) {
	depths := depths(t)
	maxGen := 0
	t.Each(func(n revtree.Node) bool {
		maxGen = max(maxGen, int(n.Generation))
		return true
	})

	keep := make(map[models.RevisionID]bool)
	var err error
	t.Each(func(n revtree.Node) bool {
		if n.Compacted {
			return true
		}
		var out any
		out, err = expr.Run(p.prg, Env{
			Generation:    int(n.Generation),
			MaxGeneration: maxGen,
			Deleted:       n.Deleted,
			Leaf:          n.IsLeaf(),
			Depth:         depths[n.ID],
		})
		if err != nil {
			err = fmt.Errorf("compaction policy %q on %s: %w", p.src, n.ID, err)
			return false
		}
		if out.(bool) {
			keep[n.ID] = true
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return keep, nil
}

// depths returns, for every revision, the distance to its nearest leaf.
func depths(t *revtree.Tree) map[models.RevisionID]int {
	out := make(map[models.RevisionID]int, t.Len())
	revs := t.Revisions()
	// children have higher generations, so walking backwards sees them first
	for i := len(revs) - 1; i >= 0; i-- {
		n := revs[i]
		if n.IsLeaf() {
			out[n.ID] = 0
			continue
		}
		best := -1
		for _, c := range n.Children {
			if d := out[c] + 1; best < 0 || d < best {
				best = d
			}
		}
		out[n.ID] = best
	}
	return out
}
