package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcanvas/backend/internal/auth"
	"agentcanvas/backend/internal/graph"
	"agentcanvas/backend/internal/llm/llmtest"
	"agentcanvas/backend/internal/logging"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/internal/services"
	"agentcanvas/backend/pkg/models"
)

const testUserHeader = "X-Test-User"

type testEnv struct {
	e     *echo.Echo
	store *repository.MemoryStore
}

// fakeAuth resolves the caller from a test header instead of a token.
func fakeAuth(store repository.UserStore, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(testUserHeader)
			if id == "" {
				if required {
					return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
				}
				return next(c)
			}
			user, err := store.GetUser(c.Request().Context(), id)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
			}
			c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), user)))
			return next(c)
		}
	}
}

func newTestEnv(t *testing.T, provider *llmtest.Scripted, opts ...Option) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, id := range []string{"alice", "bob"} {
		require.NoError(t, store.CreateUser(context.Background(), &models.User{ID: id, Email: id + "@example.com", Credits: 100, Tier: models.TierFree}))
	}

	logger := logging.Nop()
	workflows := services.NewWorkflowService(store, logger)
	chat := services.NewChatService(store, provider, services.NewExecutionRecorder(store, nil, logger), logger)

	e := echo.New()
	e.HTTPErrorHandler = ProblemErrorHandler
	RegisterHandlers(e, NewServer(store, workflows, chat, logger, "test", opts...), Middleware{
		RequireAuth: fakeAuth(store, true),
		Identify:    fakeAuth(store, false),
	}, "https://issuer.example.com/oauth2/default")

	return &testEnv{e: e, store: store}
}

func (env *testEnv) do(method, path, user, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) putWorkflow(t *testing.T, id, owner string, g graph.Graph) {
	t.Helper()
	def, err := graph.Encode(g)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateWorkflow(context.Background(), &models.Workflow{
		ID: id, OwnerID: owner, Name: id, Definition: def, Status: models.WorkflowStatusDraft, LastSaved: time.Now().UTC(),
	}))
}

func pirateGraph() graph.Graph {
	return graph.Graph{
		Nodes: []graph.Node{
			{ID: "start-1", Kind: graph.KindStart},
			{ID: "process-1", Kind: graph.KindProcess, Data: graph.NodeData{Model: "gpt-4o", SystemPrompt: "You are a pirate."}},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "start-1", Target: "process-1"}},
	}
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.ProblemDetails {
	t.Helper()
	assert.Equal(t, problemContentType, rec.Header().Get(echo.HeaderContentType))
	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

const chatBody = `{"workflowId":"wf-1","messages":[{"role":"user","content":"ahoy"}]}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &llmtest.Scripted{})
	rec := env.do(http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var status models.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)
}

func TestSpecHandler(t *testing.T) {
	env := newTestEnv(t, &llmtest.Scripted{})
	rec := env.do(http.MethodGet, "/openapi.yaml", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://issuer.example.com/oauth2/default/v1/authorize")
	assert.NotContains(t, rec.Body.String(), "{oktaIssuer}")
}

func TestWorkflowLifecycle(t *testing.T) {
	env := newTestEnv(t, &llmtest.Scripted{})

	rec := env.do(http.MethodPost, "/api/v1/workflows", "alice", `{"name":"Support bot","description":"tickets"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.OwnerID)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)

	rec = env.do(http.MethodGet, "/api/v1/workflows/"+created.ID+"/graph", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var loaded graphResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loaded))
	assert.True(t, loaded.Defaulted)
	assert.Equal(t, graph.DefaultGraph(), loaded.Graph)

	body, err := json.Marshal(pirateGraph())
	require.NoError(t, err)
	rec = env.do(http.MethodPut, "/api/v1/workflows/"+created.ID+"/graph", "alice", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/v1/workflows/"+created.ID+"/graph", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	loaded = graphResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loaded))
	assert.False(t, loaded.Defaulted)
	assert.Equal(t, pirateGraph(), loaded.Graph)

	rec = env.do(http.MethodGet, "/api/v1/workflows", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestWorkflowAccess(t *testing.T) {
	env := newTestEnv(t, &llmtest.Scripted{})
	env.putWorkflow(t, "wf-1", "alice", pirateGraph())

	rec := env.do(http.MethodGet, "/api/v1/workflows/wf-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/workflows/wf-1", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	problem := decodeProblem(t, rec)
	assert.Equal(t, "Workflow not found", problem.Detail)
	assert.Equal(t, "/api/v1/workflows/wf-1", problem.Instance)

	rec = env.do(http.MethodPut, "/api/v1/workflows/wf-1/graph", "bob", `{"nodes":[],"edges":[]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/workflows", "alice", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_PlainText(t *testing.T) {
	provider := &llmtest.Scripted{Fragments: []string{"Hel", "lo"}}
	env := newTestEnv(t, provider)
	env.putWorkflow(t, "wf-1", "alice", pirateGraph())

	rec := env.do(http.MethodPost, "/api/v1/chat", "alice", chatBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, echo.MIMETextPlainCharsetUTF8, rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "Hello", rec.Body.String())
	assert.True(t, rec.Flushed)

	trailer := rec.Result().Trailer
	assert.Empty(t, trailer.Get(HeaderStreamError))
	executionID := trailer.Get(HeaderExecutionID)
	require.NotEmpty(t, executionID)

	req := provider.Requests()[0]
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "You are a pirate.", req.SystemPrompt)

	executions, err := env.store.ListExecutions(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, executionID, executions[0].ID)
	require.NotNil(t, executions[0].UserID)
	assert.Equal(t, "alice", *executions[0].UserID)
}

// postChat sends chatBody to a live server as the given user.
func postChat(t *testing.T, baseURL, user string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/chat", strings.NewReader(chatBody))
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(testUserHeader, user)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// readWithin reads exactly n bytes from r or fails the test after d.
func readWithin(t *testing.T, r io.Reader, n int, d time.Duration) string {
	t.Helper()
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, n)
		_, err := io.ReadFull(r, buf)
		ch <- result{buf, err}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return string(res.b)
	case <-time.After(d):
		t.Fatalf("no %d bytes within %s", n, d)
		return ""
	}
}

func TestChat_FlushesEachFragment(t *testing.T) {
	gate := make(chan struct{})
	provider := &llmtest.Scripted{Fragments: []string{"Hel", "lo"}, Gate: gate}
	env := newTestEnv(t, provider)
	env.putWorkflow(t, "wf-1", "alice", pirateGraph())

	srv := httptest.NewServer(env.e)
	t.Cleanup(srv.Close)

	resp := postChat(t, srv.URL, "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// "lo" is held back by the gate, so "Hel" must arrive on its own
	assert.Equal(t, "Hel", readWithin(t, resp.Body, 3, 5*time.Second))
	assert.Equal(t, 1, provider.Pulled())

	close(gate)
	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(rest))
	assert.Empty(t, resp.Trailer.Get(HeaderStreamError))
	assert.NotEmpty(t, resp.Trailer.Get(HeaderExecutionID))
}

func TestChat_StreamOutlivesServerWriteTimeout(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &llmtest.Scripted{Fragments: []string{"Hel", "lo"}, Gate: gate}, WithStreamWriteTimeout(2*time.Second))
	env.putWorkflow(t, "wf-1", "alice", pirateGraph())

	srv := httptest.NewUnstartedServer(env.e)
	srv.Config.WriteTimeout = 200 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)

	resp := postChat(t, srv.URL, "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hel", readWithin(t, resp.Body, 3, 5*time.Second))

	time.Sleep(3 * srv.Config.WriteTimeout)
	close(gate)

	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(rest))
	assert.NotEmpty(t, resp.Trailer.Get(HeaderExecutionID))
}

func TestChat_Anonymous(t *testing.T) {
	env := newTestEnv(t, &llmtest.Scripted{Fragments: []string{"hi"}})
	env.putWorkflow(t, "wf-1", "alice", pirateGraph())

	rec := env.do(http.MethodPost, "/api/v1/chat", "", chatBody)
	require.Equal(t, http.StatusOK, rec.Code)

	executions, err := env.store.ListExecutions(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Nil(t, executions[0].UserID)
}

func TestChat_EventStream(t *testing.T) {
	env := newTestEnv(t, &llmtest.Scripted{Fragments: []string{"Hel", "lo"}})
	env.putWorkflow(t, "wf-1", "alice", pirateGraph())

	rec := env.do(http.MethodPost, "/api/v1/chat", "alice", chatBody, echo.HeaderAccept, "text/event-stream")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: fragment\ndata: \"Hel\"\n\nevent: fragment\ndata: \"lo\"\n\n"), body)
	assert.Contains(t, body, "event: done\ndata: {\"executionId\":\"")
	assert.NotContains(t, body, "event: error")
}

func TestChat_Errors(t *testing.T) {
	t.Run("workflow not found", func(t *testing.T) {
		provider := &llmtest.Scripted{Fragments: []string{"never"}}
		env := newTestEnv(t, provider)

		rec := env.do(http.MethodPost, "/api/v1/chat", "alice", chatBody)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Workflow not found", decodeProblem(t, rec).Detail)
		assert.Empty(t, provider.Requests())
	})

	t.Run("invalid body", func(t *testing.T) {
		env := newTestEnv(t, &llmtest.Scripted{})
		env.putWorkflow(t, "wf-1", "alice", pirateGraph())

		for _, body := range []string{
			`{"workflowId":"wf-1","messages":[]}`,
			`{"messages":[{"role":"user","content":"x"}]}`,
			`{"workflowId":"wf-1","messages":[{"role":"robot","content":"x"}]}`,
			`{"workflowId":`,
		} {
			rec := env.do(http.MethodPost, "/api/v1/chat", "alice", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
	})

	t.Run("provider fails before first fragment", func(t *testing.T) {
		env := newTestEnv(t, &llmtest.Scripted{Err: errors.New("quota exceeded")})
		env.putWorkflow(t, "wf-1", "alice", pirateGraph())

		rec := env.do(http.MethodPost, "/api/v1/chat", "alice", chatBody)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, decodeProblem(t, rec).Detail, "quota exceeded")
	})

	t.Run("provider fails mid stream", func(t *testing.T) {
		env := newTestEnv(t, &llmtest.Scripted{Fragments: []string{"Hel"}, Err: errors.New("connection reset")})
		env.putWorkflow(t, "wf-1", "alice", pirateGraph())

		rec := env.do(http.MethodPost, "/api/v1/chat", "alice", chatBody)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Hel", rec.Body.String())
		assert.Contains(t, rec.Result().Trailer.Get(HeaderStreamError), "connection reset")

		executions, err := env.store.ListExecutions(context.Background(), "wf-1")
		require.NoError(t, err)
		require.Len(t, executions, 1)
		assert.Equal(t, models.ExecutionStatusFailed, executions[0].Status)
	})

	t.Run("provider fails mid event stream", func(t *testing.T) {
		env := newTestEnv(t, &llmtest.Scripted{Fragments: []string{"Hel"}, Err: errors.New("connection reset")})
		env.putWorkflow(t, "wf-1", "alice", pirateGraph())

		rec := env.do(http.MethodPost, "/api/v1/chat", "alice", chatBody, echo.HeaderAccept, "text/event-stream")
		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "event: fragment\ndata: \"Hel\"\n\n")
		assert.Contains(t, body, "event: error\ndata: {")
		assert.Contains(t, body, "\"status\":502")
		assert.NotContains(t, body, "event: done")
	})
}

func TestGetMe(t *testing.T) {
	env := newTestEnv(t, &llmtest.Scripted{})
	rec := env.do(http.MethodGet, "/api/v1/me", "alice", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var user models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, models.TierFree, user.Tier)
}
