package mvserver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/storage/memstore"
)

type ServerTestSuite struct {
	suite.Suite
	app *App
	srv *httptest.Server
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	config := NewConfig()
	config.LogLevel = "error"
	app, err := NewWithAdaptor(config, memstore.New())
	s.Require().NoError(err)
	s.app = app
	s.srv = httptest.NewServer(app.Router())
}

func (s *ServerTestSuite) TearDownTest() {
	s.srv.Close()
	s.Require().NoError(s.app.Close())
}

func (s *ServerTestSuite) do(method, path, body string, header ...string) (*http.Response, []byte) {
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	s.Require().NoError(err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	s.Require().NoError(err)
	return res, data
}

func (s *ServerTestSuite) create(body string) writeResponse {
	res, data := s.do(http.MethodPost, "/api/records?type=note", body)
	s.Require().Equal(http.StatusCreated, res.StatusCode, string(data))
	var out writeResponse
	s.Require().NoError(json.Unmarshal(data, &out))
	return out
}

func (s *ServerTestSuite) decode(data []byte, v any) {
	s.Require().NoError(json.Unmarshal(data, v), string(data))
}

func (s *ServerTestSuite) TestHealth() {
	res, data := s.do(http.MethodGet, "/api/health", "")
	s.Equal(http.StatusOK, res.StatusCode)
	s.NotEmpty(res.Header.Get(requestIDHeader))

	var health map[string]any
	s.decode(data, &health)
	s.Equal("healthy", health["status"])
	s.Equal(constants.DefaultWorkspaceName, health["default_workspace"])
}

func (s *ServerTestSuite) TestRecordLifecycle() {
	created := s.create(`{"title":"a"}`)
	s.True(created.OK)
	s.Equal(uint32(1), created.Rev.Generation())

	res, data := s.do(http.MethodGet, "/api/records/"+created.ID.String(), "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	s.Equal(`"`+created.Rev.String()+`"`, res.Header.Get("ETag"))
	s.JSONEq(`{"title":"a","_id":"`+created.ID.String()+`","_rev":"`+created.Rev.String()+`"}`, string(data))

	res, data = s.do(http.MethodPut, "/api/records/"+created.ID.String(), `{"_rev":"`+created.Rev.String()+`","title":"b"}`)
	s.Require().Equal(http.StatusOK, res.StatusCode, string(data))
	var updated writeResponse
	s.decode(data, &updated)
	s.Equal(uint32(2), updated.Rev.Generation())

	// the stored payload has no bookkeeping fields
	_, payload, err := s.app.Manager().Revision(context.Background(), created.ID, updated.Rev)
	s.Require().NoError(err)
	s.JSONEq(`{"title":"b"}`, string(payload))

	res, _ = s.do(http.MethodPut, "/api/records/"+created.ID.String(), `{"title":"c"}`, "If-Match", `"`+created.Rev.String()+`"`)
	s.Equal(http.StatusConflict, res.StatusCode)

	res, data = s.do(http.MethodDelete, "/api/records/"+created.ID.String()+"?rev="+updated.Rev.String(), "")
	s.Require().Equal(http.StatusOK, res.StatusCode, string(data))

	res, _ = s.do(http.MethodGet, "/api/records/"+created.ID.String(), "")
	s.Equal(http.StatusNotFound, res.StatusCode)

	res, data = s.do(http.MethodGet, "/api/records/"+created.ID.String()+"?rev="+created.Rev.String(), "")
	s.Equal(http.StatusOK, res.StatusCode)
	s.Contains(string(data), `"title":"a"`)

	res, data = s.do(http.MethodGet, "/api/records/"+created.ID.String()+"/revisions", "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var revs []map[string]any
	s.decode(data, &revs)
	s.Require().Len(revs, 3)
	s.Equal(true, revs[2]["deleted"])

	res, data = s.do(http.MethodGet, "/api/records", "")
	s.Equal(http.StatusOK, res.StatusCode)
	s.JSONEq(`["`+created.ID.String()+`"]`, string(data))
}

func (s *ServerTestSuite) TestBadRequests() {
	res, _ := s.do(http.MethodPost, "/api/records", `{}`)
	s.Equal(http.StatusBadRequest, res.StatusCode, "missing type")

	res, _ = s.do(http.MethodPost, "/api/records?type=note", `{"title":`)
	s.Equal(http.StatusBadRequest, res.StatusCode, "invalid JSON")

	res, _ = s.do(http.MethodGet, "/api/records/not-a-uuid", "")
	s.Equal(http.StatusBadRequest, res.StatusCode)

	created := s.create(`{}`)
	res, _ = s.do(http.MethodPut, "/api/records/"+created.ID.String(), `{"_rev":"garbage"}`)
	s.Equal(http.StatusBadRequest, res.StatusCode)

	res, _ = s.do(http.MethodGet, "/api/records/"+created.ID.String()+"/diff", "")
	s.Equal(http.StatusBadRequest, res.StatusCode)
}

func (s *ServerTestSuite) TestPutCreatesWithGivenID() {
	const id = "3b241101-e2bb-4255-8caf-4136c566a962"

	res, _ := s.do(http.MethodPut, "/api/records/"+id, `{"title":"a"}`)
	s.Equal(http.StatusNotFound, res.StatusCode)

	res, _ = s.do(http.MethodPut, "/api/records/"+id+"?type=note&rev=1-00000000000000000000000000000000", `{"title":"a"}`)
	s.Equal(http.StatusConflict, res.StatusCode)
	_, err := s.app.Manager().RecordType(models.MustParseRecordID(id))
	s.ErrorIs(err, constants.ErrNotFound, "a refused create leaves no record behind")

	res, data := s.do(http.MethodPut, "/api/records/"+id+"?type=note", `{"title":"a"}`)
	s.Require().Equal(http.StatusCreated, res.StatusCode, string(data))
	var out writeResponse
	s.decode(data, &out)
	s.Equal(id, out.ID.String())

	typ, err := s.app.Manager().RecordType(out.ID)
	s.Require().NoError(err)
	s.Equal("note", typ)

	res, _ = s.do(http.MethodPut, "/api/records/"+id+"?type=note", `{"title":"b"}`)
	s.Equal(http.StatusOK, res.StatusCode, "a known record is written, not created")
}

func (s *ServerTestSuite) TestWorkspaceScoping() {
	created := s.create(`{"title":"a"}`)

	res, data := s.do(http.MethodPost, "/api/workspaces", `{"name":"draft"}`)
	s.Require().Equal(http.StatusCreated, res.StatusCode, string(data))
	var draft workspaceView
	s.decode(data, &draft)
	s.Equal("draft", draft.Name)

	res, data = s.do(http.MethodPut, "/api/records/"+created.ID.String(), `{"title":"draft edit"}`, constants.WorkspaceHeader, "draft")
	s.Require().Equal(http.StatusOK, res.StatusCode, string(data))

	_, data = s.do(http.MethodGet, "/api/records/"+created.ID.String(), "")
	s.Contains(string(data), `"title":"a"`)
	_, data = s.do(http.MethodGet, "/api/records/"+created.ID.String()+"?workspace="+draft.ID.String(), "")
	s.Contains(string(data), `"title":"draft edit"`)

	res, _ = s.do(http.MethodGet, "/api/records/"+created.ID.String(), "", constants.WorkspaceHeader, "missing")
	s.Equal(http.StatusNotFound, res.StatusCode)

	res, _ = s.do(http.MethodDelete, "/api/workspaces/draft", "")
	s.Equal(http.StatusConflict, res.StatusCode, "draft holds the only copy of its winner")

	res, _ = s.do(http.MethodDelete, "/api/workspaces/"+constants.DefaultWorkspaceName, "")
	s.Equal(http.StatusConflict, res.StatusCode)

	res, data = s.do(http.MethodPost, "/api/workspaces", `{"name":"empty","parent":"draft"}`)
	s.Require().Equal(http.StatusCreated, res.StatusCode, string(data))
	res, _ = s.do(http.MethodDelete, "/api/workspaces/draft", "")
	s.Equal(http.StatusConflict, res.StatusCode)
	res, _ = s.do(http.MethodDelete, "/api/workspaces/empty", "")
	s.Equal(http.StatusOK, res.StatusCode)

	res, data = s.do(http.MethodGet, "/api/workspaces", "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var spaces []workspaceView
	s.decode(data, &spaces)
	s.Len(spaces, 2)
}

func (s *ServerTestSuite) TestForkAndConflicts() {
	created := s.create(`{"n":1}`)

	res, data := s.do(http.MethodPost, "/api/workspaces", `{"name":"fork","fork":true}`)
	s.Require().Equal(http.StatusCreated, res.StatusCode, string(data))
	var fork workspaceView
	s.decode(data, &fork)
	s.True(fork.Forked)
	s.Equal(1, fork.ForkPoints)

	res, _ = s.do(http.MethodPut, "/api/records/"+created.ID.String(), `{"n":2}`)
	s.Require().Equal(http.StatusOK, res.StatusCode)

	_, data = s.do(http.MethodGet, "/api/records/"+created.ID.String(), "", constants.WorkspaceHeader, "fork")
	s.Contains(string(data), `"n":1`, "a fork does not see later writes to its parent")

	res, data = s.do(http.MethodGet, "/api/records/"+created.ID.String()+"/conflicts", "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var conflicts conflictsResponse
	s.decode(data, &conflicts)
	s.Equal(uint32(2), conflicts.Winner.Generation())
	s.Empty(conflicts.Conflicts)
}

func (s *ServerTestSuite) TestDiff() {
	created := s.create(`{"title":"a","tags":["x"]}`)
	res, data := s.do(http.MethodPut, "/api/records/"+created.ID.String(), `{"title":"b","tags":["x"]}`)
	s.Require().Equal(http.StatusOK, res.StatusCode, string(data))
	var updated writeResponse
	s.decode(data, &updated)

	res, data = s.do(http.MethodGet, "/api/records/"+created.ID.String()+"/diff?from="+created.Rev.String()+"&to="+updated.Rev.String(), "")
	s.Require().Equal(http.StatusOK, res.StatusCode, string(data))
	s.Equal("application/merge-patch+json", res.Header.Get("Content-Type"))
	s.JSONEq(`{"title":"b"}`, string(data))

	_, data = s.do(http.MethodGet, "/api/records/"+created.ID.String()+"/diff?from="+created.Rev.String(), "")
	s.JSONEq(`{"title":"b"}`, string(data))
}

func (s *ServerTestSuite) TestCompact() {
	created := s.create(`{"n":1}`)
	res, data := s.do(http.MethodPost, "/api/records/"+created.ID.String()+"/compact", "")
	s.Require().Equal(http.StatusOK, res.StatusCode, string(data))
	s.JSONEq(`{"compacted":[]}`, string(data))

	res, _ = s.do(http.MethodPost, "/api/records/3b241101-e2bb-4255-8caf-4136c566a962/compact", "")
	s.Equal(http.StatusNotFound, res.StatusCode)
}

func (s *ServerTestSuite) TestMetrics() {
	s.create(`{}`)
	res, data := s.do(http.MethodGet, "/metrics", "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	s.True(bytes.Contains(data, []byte("multiversion_operations_total")))
}

func TestStatusOf(t *testing.T) {
	for err, want := range map[error]int{
		constants.ErrNotFound:            http.StatusNotFound,
		constants.ErrConflict:            http.StatusConflict,
		constants.ErrPinnedWinner:        http.StatusConflict,
		constants.ErrHashCollision:       http.StatusUnprocessableEntity,
		badRequest("x"):                  http.StatusBadRequest,
		io.ErrUnexpectedEOF:              http.StatusInternalServerError,
		constants.ErrInvariantViolation:  http.StatusInternalServerError,
		constants.ErrDefaultWorkspace:    http.StatusConflict,
		constants.ErrHasDependents:       http.StatusConflict,
		constants.ErrStructuralIntegrity: http.StatusUnprocessableEntity,
	} {
		if got := statusOf(err); got != want {
			t.Errorf("statusOf(%v) = %d, want %d", err, got, want)
		}
	}
}
