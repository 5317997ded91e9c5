package revtree

import (
	"fmt"
	"maps"
	"slices"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
)

// Node is one revision in a tree. Payload pointers live in the revision
// index; the tree only carries structure.
type Node struct {
	ID         models.RevisionID
	Parent     models.RevisionID
	Generation uint32
	Deleted    bool
	// Compacted is set once the payload was removed. The node stays so the
	// tree remains connected.
	Compacted bool
	// Origin is the workspace the revision was written in.
	Origin models.WorkspaceID
	// Merged lists the other workspaces the revision was made visible in.
	Merged   []models.WorkspaceID
	Children []models.RevisionID
}

// IsLeaf reports whether the node has no children at all, regardless of
// workspace visibility.
func (n Node) IsLeaf() bool { return len(n.Children) == 0 }

// In reports whether the node was written in or merged into ws.
func (n Node) In(ws models.WorkspaceID) bool {
	return n.Origin == ws || slices.Contains(n.Merged, ws)
}

// Revision returns the node as a models.Revision without payload.
func (n Node) Revision(rec models.RecordID) models.Revision {
	return models.Revision{
		ID:         n.ID,
		Record:     rec,
		Generation: n.Generation,
		Parent:     n.Parent,
		Deleted:    n.Deleted,
		Workspace:  n.Origin,
		Compacted:  n.Compacted,
	}
}

func (n Node) clone() *Node {
	n.Merged = slices.Clone(n.Merged)
	n.Children = slices.Clone(n.Children)
	return &n
}

// Selection is the winner of a record in one workspace plus the other live
// leaves it beat.
type Selection struct {
	Winner    models.RevisionID
	Conflicts []models.RevisionID
}

func (s Selection) clone() Selection {
	s.Conflicts = slices.Clone(s.Conflicts)
	return s
}

// Visibility decides which revisions each workspace can see.
type Visibility interface {
	// Workspaces lists every live workspace.
	Workspaces() []models.WorkspaceID
	// VisibleLeaves returns the revisions visible in ws that have no child
	// visible in ws.
	VisibleLeaves(t *Tree, ws models.WorkspaceID) ([]models.RevisionID, error)
}

// Tree is the revision tree of a single record.
type Tree struct {
	Record models.RecordID
	Root   models.RevisionID

	nodes      map[models.RevisionID]*Node
	selections map[models.WorkspaceID]Selection
}

// NewTree returns an empty tree for rec.
func NewTree(rec models.RecordID) *Tree {
	return &Tree{
		Record:     rec,
		nodes:      make(map[models.RevisionID]*Node),
		selections: make(map[models.WorkspaceID]Selection),
	}
}

// Clone returns a deep copy that can be mutated without affecting t.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		Record:     t.Record,
		Root:       t.Root,
		nodes:      make(map[models.RevisionID]*Node, len(t.nodes)),
		selections: make(map[models.WorkspaceID]Selection, len(t.selections)),
	}
	for id, n := range t.nodes {
		c.nodes[id] = n.clone()
	}
	for ws, s := range t.selections {
		c.selections[ws] = s.clone()
	}
	return c
}

// Len returns the number of revisions, compacted ones included.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) IsEmpty() bool { return len(t.nodes) == 0 }

// Has reports whether id is in the tree.
func (t *Tree) Has(id models.RevisionID) bool {
	_, ok := t.nodes[id]
	return ok
}

// Node returns a copy of the node with the given id.
func (t *Tree) Node(id models.RevisionID) (Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n.clone(), true
}

// Revisions returns every node ordered by generation, then id.
func (t *Tree) Revisions() []Node {
	ids := slices.SortedFunc(maps.Keys(t.nodes), ascending)
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, *t.nodes[id].clone())
	}
	return out
}

// Each calls fn for every node, in no particular order, until fn returns
// false. fn must not modify the node's slices.
func (t *Tree) Each(fn func(n Node) bool) {
	for _, n := range t.nodes {
		if !fn(*n) {
			return
		}
	}
}

// Leaves returns the structural leaves, best first.
func (t *Tree) Leaves() []models.RevisionID {
	var out []models.RevisionID
	for id, n := range t.nodes {
		if n.IsLeaf() {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, descending)
	return out
}

// Ancestors returns the parent chain of id, nearest first, ending at the root.
func (t *Tree) Ancestors(id models.RevisionID) ([]models.RevisionID, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: revision %s of record %s", constants.ErrNotFound, id, t.Record)
	}
	var out []models.RevisionID
	for !n.Parent.IsZero() {
		p, ok := t.nodes[n.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: %s is missing parent %s", constants.ErrMissingParent, n.ID, n.Parent)
		}
		out = append(out, p.ID)
		n = p
	}
	return out, nil
}

// IsAncestorOrSelf reports whether a lies on the path from the root to b.
func (t *Tree) IsAncestorOrSelf(a, b models.RevisionID) bool {
	target, ok := t.nodes[a]
	if !ok {
		return false
	}
	n, ok := t.nodes[b]
	for ok {
		if n.ID == a {
			return true
		}
		if n.Generation <= target.Generation {
			return false
		}
		n, ok = t.nodes[n.Parent]
	}
	return false
}

// Selection returns the winner recorded for ws.
func (t *Tree) Selection(ws models.WorkspaceID) (Selection, bool) {
	s, ok := t.selections[ws]
	if !ok {
		return Selection{}, false
	}
	return s.clone(), true
}

// Selections returns the winner of every workspace that can see the record.
func (t *Tree) Selections() map[models.WorkspaceID]Selection {
	out := make(map[models.WorkspaceID]Selection, len(t.selections))
	for ws, s := range t.selections {
		out[ws] = s.clone()
	}
	return out
}

// Insert adds a revision created in ws. Inserting a revision that is already
// present with the same structure only makes it visible in ws and reports
// false.
func (t *Tree) Insert(parent, id models.RevisionID, generation uint32, deleted bool, ws models.WorkspaceID) (bool, error) {
	inserted, err := t.insert(parent, id, generation, deleted, ws)
	if err != nil || inserted {
		return inserted, err
	}
	t.expose(t.nodes[id], ws)
	return false, nil
}

func (t *Tree) insert(parent, id models.RevisionID, generation uint32, deleted bool, ws models.WorkspaceID) (bool, error) {
	if existing, ok := t.nodes[id]; ok {
		if existing.Parent != parent || existing.Generation != generation || existing.Deleted != deleted {
			return false, fmt.Errorf("%w: revision %s of record %s already exists with a different shape", constants.ErrHashCollision, id, t.Record)
		}
		return false, nil
	}

	if parent.IsZero() {
		if generation != 1 {
			return false, fmt.Errorf("%w: root %s has generation %d", constants.ErrGenerationMismatch, id, generation)
		}
		if !t.Root.IsZero() {
			return false, fmt.Errorf("%w: record %s has root %s, got %s", constants.ErrRootExists, t.Record, t.Root, id)
		}
	} else {
		p, ok := t.nodes[parent]
		if !ok {
			return false, fmt.Errorf("%w: %s of record %s", constants.ErrMissingParent, parent, t.Record)
		}
		if generation != p.Generation+1 {
			return false, fmt.Errorf("%w: %s has generation %d under parent generation %d", constants.ErrGenerationMismatch, id, generation, p.Generation)
		}
	}
	if id.Generation() != generation {
		return false, fmt.Errorf("%w: id %s does not carry generation %d", constants.ErrGenerationMismatch, id, generation)
	}

	t.nodes[id] = &Node{
		ID:         id,
		Parent:     parent,
		Generation: generation,
		Deleted:    deleted,
		Origin:     ws,
	}
	if parent.IsZero() {
		t.Root = id
	} else {
		p := t.nodes[parent]
		i, _ := slices.BinarySearchFunc(p.Children, id, ascending)
		p.Children = slices.Insert(p.Children, i, id)
	}
	return true, nil
}

// Tombstone adds a deleted revision under parent.
func (t *Tree) Tombstone(parent, id models.RevisionID, ws models.WorkspaceID) (bool, error) {
	p, ok := t.nodes[parent]
	if !ok {
		return false, fmt.Errorf("%w: %s of record %s", constants.ErrMissingParent, parent, t.Record)
	}
	return t.Insert(parent, id, p.Generation+1, true, ws)
}

func (t *Tree) expose(n *Node, ws models.WorkspaceID) bool {
	if n.In(ws) {
		return false
	}
	n.Merged = append(n.Merged, ws)
	return true
}

// Merge inserts foreign revisions parent first and makes each of them, with
// its ancestors, visible in target. It returns the revisions that were not
// visible in target before, in insertion order. Merging the same revisions
// again returns nothing and changes nothing.
func (t *Tree) Merge(incoming []models.Revision, target models.WorkspaceID) ([]models.RevisionID, error) {
	revs := slices.Clone(incoming)
	slices.SortStableFunc(revs, func(a, b models.Revision) int {
		if a.Generation != b.Generation {
			if a.Generation < b.Generation {
				return -1
			}
			return 1
		}
		return ascending(a.ID, b.ID)
	})

	var exposed []models.RevisionID
	for _, rev := range revs {
		if rev.Record != t.Record && !rev.Record.IsZero() {
			return nil, fmt.Errorf("%w: revision %s belongs to record %s, not %s", constants.ErrInvariantViolation, rev.ID, rev.Record, t.Record)
		}
		origin := rev.Workspace
		if origin.IsZero() {
			origin = target
		}
		inserted, err := t.insert(rev.Parent, rev.ID, rev.Generation, rev.Deleted, origin)
		if err != nil {
			return nil, err
		}

		for id := rev.ID; !id.IsZero(); {
			n := t.nodes[id]
			fresh := inserted && id == rev.ID
			if t.expose(n, target) || fresh {
				exposed = append(exposed, id)
			} else {
				// already in target, and so are its ancestors
				break
			}
			id = n.Parent
		}
	}
	return exposed, nil
}

// SelectWinner picks the best of leaves by Compare. Conflicts are the other
// leaves that are not tombstones, best first. The result depends only on the
// set of leaves, not on their order.
func (t *Tree) SelectWinner(leaves []models.RevisionID) (Selection, error) {
	if len(leaves) == 0 {
		return Selection{}, fmt.Errorf("%w: no leaves to select from for record %s", constants.ErrInvariantViolation, t.Record)
	}
	sorted := slices.Clone(leaves)
	slices.SortFunc(sorted, descending)
	sorted = slices.Compact(sorted)

	for _, id := range sorted {
		if _, ok := t.nodes[id]; !ok {
			return Selection{}, fmt.Errorf("%w: leaf %s is not in the tree of record %s", constants.ErrInvariantViolation, id, t.Record)
		}
	}

	sel := Selection{Winner: sorted[0]}
	for _, id := range sorted[1:] {
		if !t.nodes[id].Deleted {
			sel.Conflicts = append(sel.Conflicts, id)
		}
	}
	return sel, nil
}

// Recompute refreshes the selection of every live workspace. Workspaces that
// see nothing of the record lose their selection.
func (t *Tree) Recompute(v Visibility) error {
	next := make(map[models.WorkspaceID]Selection)
	for _, ws := range v.Workspaces() {
		leaves, err := v.VisibleLeaves(t, ws)
		if err != nil {
			return err
		}
		if len(leaves) == 0 {
			continue
		}
		sel, err := t.SelectWinner(leaves)
		if err != nil {
			return err
		}
		next[ws] = sel
	}
	t.selections = next
	return nil
}

// Protected returns every ancestor-or-self of a current winner or live
// conflicting leaf, in any workspace.
func (t *Tree) Protected() map[models.RevisionID]bool {
	out := make(map[models.RevisionID]bool)
	mark := func(id models.RevisionID) {
		for !id.IsZero() && !out[id] {
			out[id] = true
			n, ok := t.nodes[id]
			if !ok {
				return
			}
			id = n.Parent
		}
	}
	for _, s := range t.selections {
		mark(s.Winner)
		for _, c := range s.Conflicts {
			mark(c)
		}
	}
	return out
}

// Compact drops the payload of every interior revision that is neither in
// keep nor protected. The nodes stay as stubs. It returns the ids compacted
// by this call in ascending order.
func (t *Tree) Compact(keep, protected map[models.RevisionID]bool) ([]models.RevisionID, error) {
	removed := t.Compactable(keep, protected)
	return removed, t.Prune(removed, protected)
}

// Compactable lists what Compact would compact, without changing t.
func (t *Tree) Compactable(keep, protected map[models.RevisionID]bool) []models.RevisionID {
	var out []models.RevisionID
	for _, n := range t.Revisions() {
		if n.IsLeaf() || n.Compacted || keep[n.ID] || protected[n.ID] {
			continue
		}
		out = append(out, n.ID)
	}
	return out
}

// Prune compacts exactly ids. Touching a leaf or a protected revision is an
// invariant violation and nothing is compacted.
func (t *Tree) Prune(ids []models.RevisionID, protected map[models.RevisionID]bool) error {
	for _, id := range ids {
		n, ok := t.nodes[id]
		if !ok {
			return fmt.Errorf("%w: revision %s of record %s", constants.ErrNotFound, id, t.Record)
		}
		if protected[id] {
			return fmt.Errorf("%w: revision %s is an ancestor of a live winner of record %s", constants.ErrInvariantViolation, id, t.Record)
		}
		if n.IsLeaf() {
			return fmt.Errorf("%w: revision %s is a leaf of record %s", constants.ErrInvariantViolation, id, t.Record)
		}
	}
	for _, id := range ids {
		t.nodes[id].Compacted = true
	}
	return nil
}
