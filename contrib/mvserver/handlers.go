package mvserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	jsonpatch "github.com/evanphx/json-patch"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/surrealdb/multiversion"
	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
)

const maxBodySize = 4 << 20

var errBadRequest = errors.New("bad request")

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

func respondRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// statusOf maps the library's sentinel errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, constants.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, constants.ErrConflict),
		errors.Is(err, constants.ErrHasDependents),
		errors.Is(err, constants.ErrPinnedWinner),
		errors.Is(err, constants.ErrDefaultWorkspace):
		return http.StatusConflict
	case errors.Is(err, constants.ErrStructuralIntegrity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}

func (a *App) workspace(r *http.Request) (models.WorkspaceID, error) {
	return a.negotiator.WorkspaceID(r)
}

func recordID(r *http.Request) (models.RecordID, error) {
	rec, err := models.ParseRecordID(mux.Vars(r)["id"])
	if err != nil {
		return models.RecordID{}, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return rec, nil
}

// readDocument reads a JSON body and splits off the _rev and _id fields.
func readDocument(w http.ResponseWriter, r *http.Request) (payload []byte, rev models.RevisionID, err error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if !json.Valid(body) {
		return nil, "", badRequest("body is not valid JSON")
	}
	if !isObject(body) {
		return body, "", nil
	}
	if s, err := jsonparser.GetString(body, constants.RevisionField); err == nil {
		rev = models.RevisionID(s)
	}
	body = jsonparser.Delete(body, constants.RevisionField)
	body = jsonparser.Delete(body, "_id")
	return body, rev, nil
}

func isObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// baseRevision prefers an explicit _rev, then the rev query parameter, then
// If-Match.
func baseRevision(r *http.Request, fromBody models.RevisionID) (models.RevisionID, error) {
	rev := fromBody
	if rev.IsZero() {
		rev = models.RevisionID(r.URL.Query().Get("rev"))
	}
	if rev.IsZero() {
		rev = models.RevisionID(strings.Trim(r.Header.Get("If-Match"), `"`))
	}
	if rev.IsZero() {
		return "", nil
	}
	if _, err := models.ParseRevisionID(string(rev)); err != nil {
		return "", fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return rev, nil
}

type writeResponse struct {
	OK  bool              `json:"ok"`
	ID  models.RecordID   `json:"id"`
	Rev models.RevisionID `json:"rev"`
}

func (a *App) respondWrite(w http.ResponseWriter, status int, rec models.RecordID, rev models.RevisionID) {
	w.Header().Set("ETag", `"`+rev.String()+`"`)
	respondJSON(w, status, writeResponse{OK: true, ID: rec, Rev: rev})
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"default_workspace": a.config.DefaultWorkspace,
		"records":           len(a.manager.Records()),
		"time":              time.Now().Unix(),
	})
}

func (a *App) handleListRecords(w http.ResponseWriter, _ *http.Request) {
	records := a.manager.Records()
	if records == nil {
		records = []models.RecordID{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (a *App) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	recordType := r.URL.Query().Get("type")
	if recordType == "" {
		a.respondError(w, r, badRequest("type is required"))
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	payload, _, err := readDocument(w, r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	rec, rev, err := a.manager.Create(r.Context(), ws, recordType, payload)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondWrite(w, http.StatusCreated, rec, rev)
}

// handleGetRecord returns the winner, or the revision named by ?rev=, with
// _id, _rev and _conflicts merged into object payloads.
func (a *App) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := recordID(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	var (
		rev       models.Revision
		payload   []byte
		conflicts []models.RevisionID
	)
	if want := r.URL.Query().Get("rev"); want != "" {
		rev, payload, err = a.manager.Revision(r.Context(), rec, models.RevisionID(want))
	} else {
		var doc multiversion.Document
		doc, err = a.manager.Get(r.Context(), rec, ws)
		rev, payload, conflicts = doc.Revision, doc.Payload, doc.Conflicts
	}
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	payload = emptyAsObject(payload)
	if isObject(payload) {
		payload, err = annotate(payload, rec, rev.ID, conflicts)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
	}
	w.Header().Set("ETag", `"`+rev.ID.String()+`"`)
	respondRaw(w, http.StatusOK, "application/json", payload)
}

func annotate(payload []byte, rec models.RecordID, rev models.RevisionID, conflicts []models.RevisionID) ([]byte, error) {
	quoted := func(s string) []byte {
		b, _ := json.Marshal(s)
		return b
	}
	out, err := jsonparser.Set(payload, quoted(rec.String()), "_id")
	if err != nil {
		return nil, err
	}
	out, err = jsonparser.Set(out, quoted(rev.String()), constants.RevisionField)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		list, err := json.Marshal(conflicts)
		if err != nil {
			return nil, err
		}
		out, err = jsonparser.Set(out, list, "_conflicts")
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// handleWriteRecord writes on top of the revision named by _rev or If-Match.
// An unknown record is created under the given id when ?type= is set.
func (a *App) handleWriteRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := recordID(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	payload, bodyRev, err := readDocument(w, r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	base, err := baseRevision(r, bodyRev)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	if _, err := a.manager.RecordType(rec); errors.Is(err, constants.ErrNotFound) {
		recordType := r.URL.Query().Get("type")
		if recordType == "" {
			a.respondError(w, r, err)
			return
		}
		if !base.IsZero() {
			a.respondError(w, r, fmt.Errorf("%w: record %s has no revision %s", constants.ErrConflict, rec, base))
			return
		}
		rev, err := a.manager.CreateWithID(r.Context(), rec, ws, recordType, payload)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		a.respondWrite(w, http.StatusCreated, rec, rev)
		return
	}

	rev, err := a.manager.Write(r.Context(), rec, ws, base, payload)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondWrite(w, http.StatusOK, rec, rev)
}

func (a *App) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := recordID(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	base, err := baseRevision(r, "")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	rev, err := a.manager.Delete(r.Context(), rec, ws, base)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondWrite(w, http.StatusOK, rec, rev)
}

func (a *App) handleRevisions(w http.ResponseWriter, r *http.Request) {
	rec, err := recordID(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	revs := []models.Revision{}
	for rev, err := range a.manager.History(rec) {
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		revs = append(revs, rev)
	}
	respondJSON(w, http.StatusOK, revs)
}

type conflictsResponse struct {
	Winner    models.RevisionID   `json:"winner"`
	Conflicts []models.RevisionID `json:"conflicts"`
}

func (a *App) handleConflicts(w http.ResponseWriter, r *http.Request) {
	rec, err := recordID(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	winner, err := a.manager.Current(rec, ws)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	conflicts, err := a.manager.Conflicts(rec, ws)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []models.RevisionID{}
	}
	respondJSON(w, http.StatusOK, conflictsResponse{Winner: winner, Conflicts: conflicts})
}

// handleDiff returns the RFC 7386 merge patch that turns revision from into
// revision to. Without to, the current winner is used.
func (a *App) handleDiff(w http.ResponseWriter, r *http.Request) {
	rec, err := recordID(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	from := models.RevisionID(r.URL.Query().Get("from"))
	to := models.RevisionID(r.URL.Query().Get("to"))
	if from.IsZero() {
		a.respondError(w, r, badRequest("from is required"))
		return
	}
	if to.IsZero() {
		ws, err := a.workspace(r)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		if to, err = a.manager.Current(rec, ws); err != nil {
			a.respondError(w, r, err)
			return
		}
	}

	_, original, err := a.manager.Revision(r.Context(), rec, from)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	_, modified, err := a.manager.Revision(r.Context(), rec, to)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	patch, err := jsonpatch.CreateMergePatch(emptyAsObject(original), emptyAsObject(modified))
	if err != nil {
		a.respondError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	respondRaw(w, http.StatusOK, "application/merge-patch+json", patch)
}

// emptyAsObject treats the empty payload of a tombstone as an empty object.
func emptyAsObject(b []byte) []byte {
	if len(bytes.TrimSpace(b)) == 0 {
		return []byte("{}")
	}
	return b
}

type compactResponse struct {
	Compacted []models.RevisionID `json:"compacted"`
}

func (a *App) handleCompact(w http.ResponseWriter, r *http.Request) {
	rec, err := recordID(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	tree, err := a.manager.Tree(rec)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	keep, err := a.policy.Keep(tree)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	removed, err := a.manager.Compact(r.Context(), rec, keep)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if removed == nil {
		removed = []models.RevisionID{}
	}
	respondJSON(w, http.StatusOK, compactResponse{Compacted: removed})
}

type workspaceView struct {
	ID         models.WorkspaceID  `json:"id"`
	Name       string              `json:"name"`
	Parent     *models.WorkspaceID `json:"parent,omitempty"`
	IsDefault  bool                `json:"is_default,omitempty"`
	Forked     bool                `json:"forked,omitempty"`
	ForkPoints int                 `json:"fork_points,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func viewOf(ws models.Workspace) workspaceView {
	return workspaceView{
		ID:         ws.ID,
		Name:       ws.Name,
		Parent:     ws.Parent,
		IsDefault:  ws.IsDefault,
		Forked:     ws.Forked,
		ForkPoints: len(ws.ForkPoints),
		CreatedAt:  ws.CreatedAt,
	}
}

func (a *App) handleListWorkspaces(w http.ResponseWriter, _ *http.Request) {
	spaces := a.manager.Workspaces().List()
	out := make([]workspaceView, 0, len(spaces))
	for _, ws := range spaces {
		out = append(out, viewOf(ws))
	}
	respondJSON(w, http.StatusOK, out)
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
	// Parent is a workspace id or name. Empty means the default workspace.
	Parent string `json:"parent,omitempty"`
	Fork   bool   `json:"fork,omitempty"`
}

// resolveWorkspace accepts an id or a name.
func (a *App) resolveWorkspace(v string) (models.Workspace, error) {
	if id, err := models.ParseWorkspaceID(v); err == nil {
		return a.manager.Workspaces().Get(id)
	}
	return a.manager.Workspaces().Lookup(v)
}

func (a *App) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		a.respondError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if req.Name == "" {
		a.respondError(w, r, badRequest("name is required"))
		return
	}

	parent := a.manager.DefaultWorkspace()
	if req.Parent != "" {
		p, err := a.resolveWorkspace(req.Parent)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		parent = p.ID
	}

	var (
		ws  models.Workspace
		err error
	)
	if req.Fork {
		ws, err = a.manager.ForkWorkspace(r.Context(), parent, req.Name)
	} else {
		ws, err = a.manager.CreateWorkspace(r.Context(), &parent, req.Name)
	}
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewOf(ws))
}

func (a *App) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := a.resolveWorkspace(mux.Vars(r)["id"])
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.manager.DeleteWorkspace(r.Context(), ws.ID); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
