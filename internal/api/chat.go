package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"agentcanvas/backend/internal/auth"
	"agentcanvas/backend/internal/services"
	"agentcanvas/backend/pkg/models"
)

const (
	// HeaderStreamError is the trailer set when a plain text stream fails
	// after the first fragment.
	HeaderStreamError = "X-Stream-Error"
	// HeaderExecutionID is the trailer carrying the recorded execution id.
	HeaderExecutionID = "X-Execution-Id"

	mimeEventStream = "text/event-stream"
)

// streamWriter delivers fragments to the client. Headers are committed on the
// first fragment so failures before it can still be answered with a status code.
type streamWriter interface {
	start()
	fragment(text string) error
	fail(problem models.ProblemDetails)
	done(executionID string)
}

// Chat runs one chat turn against the workflow's entry node and streams the
// reply. The body is plain text unless the client accepts text/event-stream.
// (POST /api/v1/chat)
func (s *Server) Chat(c echo.Context) error {
	var req services.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return s.toHTTPError(c, err)
	}
	if user, ok := auth.UserFromContext(c.Request().Context()); ok {
		req.UserID = &user.ID
	}

	dl := writeDeadline{rc: http.NewResponseController(c.Response()), window: s.streamWriteTimeout}
	var w streamWriter = &textStream{res: c.Response(), writeDeadline: dl}
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), mimeEventStream) {
		w = &eventStream{res: c.Response(), writeDeadline: dl}
	}

	started := false
	emit := func(fragment string) error {
		if !started {
			w.start()
			started = true
		}
		return w.fragment(fragment)
	}

	result, err := s.chat.Run(c.Request().Context(), req, emit)
	if err != nil && c.Request().Context().Err() != nil {
		// client went away; the turn is already recorded as failed
		return nil
	}
	if err != nil && !started {
		return s.toHTTPError(c, err)
	}
	if !started {
		w.start()
	}
	if err != nil {
		s.logger.Debug("chat stream ended early", "workflow_id", req.WorkflowID, "error", err.Error())
		w.fail(problemFor(c, s.toHTTPError(c, err)))
		return nil
	}
	w.done(result.ExecutionID)
	return nil
}

// writeDeadline moves the connection write deadline window ahead of now
// before each write, so a stream is bounded per fragment rather than by
// http.Server.WriteTimeout for the whole reply.
type writeDeadline struct {
	rc     *http.ResponseController
	window time.Duration
}

func (d writeDeadline) extend() {
	if d.window <= 0 {
		return
	}
	// not supported by every writer (httptest.ResponseRecorder)
	_ = d.rc.SetWriteDeadline(time.Now().Add(d.window))
}

type textStream struct {
	res *echo.Response
	writeDeadline
}

func (t *textStream) start() {
	t.extend()
	h := t.res.Header()
	h.Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Trailer", HeaderStreamError+", "+HeaderExecutionID)
	t.res.WriteHeader(http.StatusOK)
	t.res.Flush()
}

func (t *textStream) fragment(text string) error {
	t.extend()
	if _, err := t.res.Write([]byte(text)); err != nil {
		return err
	}
	t.res.Flush()
	return nil
}

func (t *textStream) fail(problem models.ProblemDetails) {
	t.extend()
	t.res.Header().Set(HeaderStreamError, problem.Detail)
}

func (t *textStream) done(executionID string) {
	t.extend()
	if executionID != "" {
		t.res.Header().Set(HeaderExecutionID, executionID)
	}
}

type eventStream struct {
	res *echo.Response
	writeDeadline
}

func (e *eventStream) start() {
	e.extend()
	h := e.res.Header()
	h.Set(echo.HeaderContentType, mimeEventStream)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	e.res.WriteHeader(http.StatusOK)
	e.res.Flush()
}

func (e *eventStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	e.extend()
	if _, err := fmt.Fprintf(e.res, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	e.res.Flush()
	return nil
}

func (e *eventStream) fragment(text string) error {
	return e.send("fragment", text)
}

func (e *eventStream) fail(problem models.ProblemDetails) {
	_ = e.send("error", problem)
}

func (e *eventStream) done(executionID string) {
	_ = e.send("done", map[string]string{"executionId": executionID})
}
