// Package negotiator decides which workspace an HTTP request operates in.
package negotiator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
)

// Negotiator picks the workspace of a request.
type Negotiator interface {
	// Applies reports whether the negotiator has an opinion about r.
	Applies(r *http.Request) bool
	// WorkspaceID returns the workspace r should be served from.
	WorkspaceID(r *http.Request) (models.WorkspaceID, error)
	// Persist remembers ws for later requests, if the negotiator can.
	Persist(ws models.WorkspaceID) error
}

// Resolver finds workspaces by id or by name. *workspace.Manager implements it.
type Resolver interface {
	Get(id models.WorkspaceID) (models.Workspace, error)
	Lookup(name string) (models.Workspace, error)
}

// Default always applies and returns a fixed workspace.
type Default struct {
	ID models.WorkspaceID
}

func (d Default) Applies(*http.Request) bool { return true }

func (d Default) WorkspaceID(*http.Request) (models.WorkspaceID, error) {
	return d.ID, nil
}

func (d Default) Persist(models.WorkspaceID) error { return nil }

// Header reads the workspace from the X-Workspace header or, failing that,
// the workspace query parameter. The value is a workspace id or name.
type Header struct {
	Resolver Resolver
}

func (h Header) value(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(constants.WorkspaceHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(constants.WorkspaceQueryParam))
}

func (h Header) Applies(r *http.Request) bool {
	return h.value(r) != ""
}

func (h Header) WorkspaceID(r *http.Request) (models.WorkspaceID, error) {
	v := h.value(r)
	if v == "" {
		return models.WorkspaceID{}, fmt.Errorf("%w: no workspace in request", constants.ErrNotFound)
	}
	if id, err := models.ParseWorkspaceID(v); err == nil {
		ws, err := h.Resolver.Get(id)
		if err != nil {
			return models.WorkspaceID{}, err
		}
		return ws.ID, nil
	}
	ws, err := h.Resolver.Lookup(v)
	if err != nil {
		return models.WorkspaceID{}, err
	}
	return ws.ID, nil
}

// Persist is a no-op: the client repeats the header on every request.
func (h Header) Persist(models.WorkspaceID) error { return nil }

// Chain asks each negotiator in turn and uses the first that applies.
type Chain []Negotiator

func (c Chain) Applies(r *http.Request) bool {
	for _, n := range c {
		if n.Applies(r) {
			return true
		}
	}
	return false
}

func (c Chain) WorkspaceID(r *http.Request) (models.WorkspaceID, error) {
	for _, n := range c {
		if n.Applies(r) {
			return n.WorkspaceID(r)
		}
	}
	return models.WorkspaceID{}, fmt.Errorf("%w: no negotiator applies", constants.ErrNotFound)
}

// Persist tells every negotiator in the chain.
func (c Chain) Persist(ws models.WorkspaceID) error {
	for _, n := range c {
		if err := n.Persist(ws); err != nil {
			return err
		}
	}
	return nil
}
