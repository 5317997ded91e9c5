// Package workspace manages isolation scopes and decides which revisions of a
// record each of them can see.
//
// A workspace created with Create is flat: it sees what its parent sees plus
// its own writes. A workspace created with Fork is scoped: it sees the
// history of the parent's winners at fork time plus its own writes and
// whatever is merged into it, and nothing the parent writes afterwards.
package workspace

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/revtree"
)

type Manager struct {
	mu         sync.RWMutex
	defaultID  models.WorkspaceID
	workspaces map[models.WorkspaceID]*models.Workspace

	now func() time.Time
}

// New returns a Manager whose default workspace is named defaultName. The
// default workspace id is derived from the name.
func New(defaultName string) *Manager {
	if defaultName == "" {
		defaultName = constants.DefaultWorkspaceName
	}
	m := &Manager{
		workspaces: make(map[models.WorkspaceID]*models.Workspace),
		now:        time.Now,
	}
	def := &models.Workspace{
		ID:        models.NewNamedWorkspaceID(defaultName),
		Name:      defaultName,
		IsDefault: true,
		CreatedAt: m.now().UTC(),
	}
	m.defaultID = def.ID
	m.workspaces[def.ID] = def
	return m
}

// DefaultWorkspace returns the workspace fixed at construction.
func (m *Manager) DefaultWorkspace() models.Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyWorkspace(m.workspaces[m.defaultID])
}

// Create adds a flat child of parent, or of the default workspace when parent
// is nil.
func (m *Manager) Create(parent *models.WorkspaceID, name string) (models.Workspace, error) {
	return m.add(parent, name, false, nil)
}

// Fork adds a scoped child of parent that starts from forkPoints, the
// parent's winners at fork time.
func (m *Manager) Fork(parent models.WorkspaceID, name string, forkPoints map[models.RecordID]models.RevisionID) (models.Workspace, error) {
	return m.add(&parent, name, true, forkPoints)
}

func (m *Manager) add(parent *models.WorkspaceID, name string, forked bool, forkPoints map[models.RecordID]models.RevisionID) (models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.defaultID
	if parent != nil {
		p = *parent
	}
	if _, ok := m.workspaces[p]; !ok {
		return models.Workspace{}, fmt.Errorf("%w: parent workspace %s", constants.ErrNotFound, p)
	}
	if name == "" {
		return models.Workspace{}, fmt.Errorf("workspace name must not be empty")
	}
	for _, w := range m.workspaces {
		if w.Name == name {
			return models.Workspace{}, fmt.Errorf("%w: workspace %q already exists", constants.ErrConflict, name)
		}
	}

	w := &models.Workspace{
		ID:         models.NewWorkspaceID(),
		Name:       name,
		Parent:     &p,
		Forked:     forked,
		ForkPoints: maps.Clone(forkPoints),
		CreatedAt:  m.now().UTC(),
	}
	if forked && w.ForkPoints == nil {
		w.ForkPoints = map[models.RecordID]models.RevisionID{}
	}
	m.workspaces[w.ID] = w
	return copyWorkspace(w), nil
}

// Restore re-adds a workspace loaded from storage, keeping its id. Parents
// must be restored before their children.
func (m *Manager) Restore(w models.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workspaces[w.ID]; ok {
		return nil
	}
	if w.Parent == nil {
		return fmt.Errorf("%w: workspace %s has no parent", constants.ErrInvariantViolation, w.ID)
	}
	if _, ok := m.workspaces[*w.Parent]; !ok {
		return fmt.Errorf("%w: parent workspace %s", constants.ErrNotFound, *w.Parent)
	}
	c := copyWorkspace(&w)
	c.IsDefault = false
	m.workspaces[c.ID] = &c
	return nil
}

// Get returns the workspace with id, or an error wrapping
// constants.ErrNotFound.
func (m *Manager) Get(id models.WorkspaceID) (models.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workspaces[id]
	if !ok {
		return models.Workspace{}, fmt.Errorf("%w: workspace %s", constants.ErrNotFound, id)
	}
	return copyWorkspace(w), nil
}

// Lookup finds a workspace by name.
func (m *Manager) Lookup(name string) (models.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.workspaces {
		if w.Name == name {
			return copyWorkspace(w), nil
		}
	}
	return models.Workspace{}, fmt.Errorf("%w: workspace %q", constants.ErrNotFound, name)
}

// List returns every workspace, oldest first.
func (m *Manager) List() []models.Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Workspace, 0, len(m.workspaces))
	for _, w := range m.workspaces {
		out = append(out, copyWorkspace(w))
	}
	slices.SortFunc(out, func(a, b models.Workspace) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// Workspaces implements revtree.Visibility.
func (m *Manager) Workspaces() []models.WorkspaceID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Collect(maps.Keys(m.workspaces))
}

// Children returns the workspaces whose parent is id.
func (m *Manager) Children(id models.WorkspaceID) []models.WorkspaceID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.children(id)
}

func (m *Manager) children(id models.WorkspaceID) []models.WorkspaceID {
	var out []models.WorkspaceID
	for _, w := range m.workspaces {
		if w.Parent != nil && *w.Parent == id {
			out = append(out, w.ID)
		}
	}
	return out
}

// Delete removes a workspace that has no children. The default workspace
// cannot be deleted.
func (m *Manager) Delete(id models.WorkspaceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == m.defaultID {
		return constants.ErrDefaultWorkspace
	}
	if _, ok := m.workspaces[id]; !ok {
		return fmt.Errorf("%w: workspace %s", constants.ErrNotFound, id)
	}
	if kids := m.children(id); len(kids) > 0 {
		return fmt.Errorf("%w: %d child workspace(s)", constants.ErrHasDependents, len(kids))
	}
	delete(m.workspaces, id)
	return nil
}

// scope is what a workspace can see of one record.
type scope struct {
	chain map[models.WorkspaceID]bool
	// forkPoint bounds what is inherited from beyond the first forked link.
	forkPoint models.RevisionID
}

func (m *Manager) scope(ws models.WorkspaceID, rec models.RecordID) (scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workspaces[ws]
	if !ok {
		return scope{}, fmt.Errorf("%w: workspace %s", constants.ErrNotFound, ws)
	}
	s := scope{chain: make(map[models.WorkspaceID]bool)}
	for {
		s.chain[w.ID] = true
		if w.Forked {
			s.forkPoint = w.ForkPoints[rec]
			return s, nil
		}
		if w.Parent == nil {
			return s, nil
		}
		p, ok := m.workspaces[*w.Parent]
		if !ok {
			return scope{}, fmt.Errorf("%w: workspace %s lost its parent %s", constants.ErrInvariantViolation, w.ID, *w.Parent)
		}
		w = p
	}
}

// Visible reports whether rev of t is visible in ws.
func (m *Manager) Visible(t *revtree.Tree, ws models.WorkspaceID, rev models.RevisionID) (bool, error) {
	s, err := m.scope(ws, t.Record)
	if err != nil {
		return false, err
	}
	n, ok := t.Node(rev)
	if !ok {
		return false, nil
	}
	return s.sees(t, n), nil
}

func (s scope) sees(t *revtree.Tree, n revtree.Node) bool {
	if s.chain[n.Origin] {
		return true
	}
	for _, w := range n.Merged {
		if s.chain[w] {
			return true
		}
	}
	return !s.forkPoint.IsZero() && t.IsAncestorOrSelf(n.ID, s.forkPoint)
}

// VisibleLeaves implements revtree.Visibility. It returns the leaves of the
// revisions visible in ws, not the leaves of the whole tree: the default
// workspace too sees only its own writes and what was merged into it, never
// the writes of its children.
func (m *Manager) VisibleLeaves(t *revtree.Tree, ws models.WorkspaceID) ([]models.RevisionID, error) {
	s, err := m.scope(ws, t.Record)
	if err != nil {
		return nil, err
	}

	inherited := make(map[models.RevisionID]bool)
	if !s.forkPoint.IsZero() && t.Has(s.forkPoint) {
		inherited[s.forkPoint] = true
		anc, err := t.Ancestors(s.forkPoint)
		if err != nil {
			return nil, err
		}
		for _, id := range anc {
			inherited[id] = true
		}
	}

	visible := make(map[models.RevisionID]revtree.Node)
	t.Each(func(n revtree.Node) bool {
		if inherited[n.ID] || s.chain[n.Origin] || slices.ContainsFunc(n.Merged, func(w models.WorkspaceID) bool { return s.chain[w] }) {
			visible[n.ID] = n
		}
		return true
	})

	var leaves []models.RevisionID
	for id, n := range visible {
		hasVisibleChild := slices.ContainsFunc(n.Children, func(c models.RevisionID) bool {
			_, ok := visible[c]
			return ok
		})
		if !hasVisibleChild {
			leaves = append(leaves, id)
		}
	}
	slices.SortFunc(leaves, func(a, b models.RevisionID) int { return revtree.Compare(b, a) })
	return leaves, nil
}

func copyWorkspace(w *models.Workspace) models.Workspace {
	c := *w
	if w.Parent != nil {
		p := *w.Parent
		c.Parent = &p
	}
	c.ForkPoints = maps.Clone(w.ForkPoints)
	return c
}
