package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/discode/internal/runtime"
)

func newServerFixture(t *testing.T, token string) (*Server, *pipelineFixture) {
	t.Helper()
	f := newPipelineFixture(t)
	f.pipeline.cfg.Hook.Token = token
	return NewServer(f.pipeline), f
}

func postEvent(s *Server, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/opencode-event", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestHookAcceptsEvent(t *testing.T) {
	s, f := newServerFixture(t, "")
	body, _ := json.Marshal(map[string]string{
		"type": "session.end", "projectName": "myapp", "reason": "exit",
	})
	w := postEvent(s, "", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	f.settle(t)
	assert.True(t, f.client.ContainsSend("🏁 Session ended"))
}

func TestHookRejectsInvalidJSON(t *testing.T) {
	s, _ := newServerFixture(t, "")
	w := postEvent(s, "", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHookUnknownTypeIgnored(t *testing.T) {
	s, _ := newServerFixture(t, "")
	body, _ := json.Marshal(map[string]string{"type": "agent.heartbeat", "projectName": "myapp"})
	w := postEvent(s, "", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", w.Body.String())
}

func TestHookBearerAuth(t *testing.T) {
	s, _ := newServerFixture(t, "sekrit")
	body, _ := json.Marshal(map[string]string{"type": "session.end", "projectName": "myapp"})

	w := postEvent(s, "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postEvent(s, "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postEvent(s, "sekrit", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

// The body limit is exact: a payload of MaxBodyBytes passes, one more byte
// is a 413.
func TestHookBodySizeBoundary(t *testing.T) {
	s, _ := newServerFixture(t, "")

	prefix := `{"type":"session.end","projectName":"myapp","text":"`
	suffix := `"}`
	pad := MaxBodyBytes - len(prefix) - len(suffix)
	atLimit := prefix + strings.Repeat("a", pad) + suffix
	require.Len(t, atLimit, MaxBodyBytes)

	w := postEvent(s, "", []byte(atLimit))
	assert.Equal(t, http.StatusOK, w.Code)

	overLimit := prefix + strings.Repeat("a", pad+1) + suffix
	w = postEvent(s, "", []byte(overLimit))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// errReader simulates a client disconnect mid-read.
type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, fmt.Errorf("connection reset") }

// A body-read failure that is not the size cap must not be reported as 413.
func TestHookBodyReadFailureIsNotOversize(t *testing.T) {
	s, _ := newServerFixture(t, "")
	req := httptest.NewRequest(http.MethodPost, "/opencode-event", errReader{})
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHookUnknownProjectStatus(t *testing.T) {
	s, _ := newServerFixture(t, "")
	body, _ := json.Marshal(map[string]string{"type": "session.end", "projectName": "ghost"})
	w := postEvent(s, "", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "PROJECT_NOT_FOUND")
}

func TestRuntimeEndpointsWithoutRuntime(t *testing.T) {
	s, _ := newServerFixture(t, "")

	for _, route := range []struct{ method, path, body string }{
		{http.MethodPost, "/runtime/focus", `{"windowId":"win-1"}`},
		{http.MethodPost, "/runtime/input", `{"windowId":"win-1","text":"ls"}`},
		{http.MethodPost, "/runtime/stop", `{"windowId":"win-1"}`},
		{http.MethodPost, "/runtime/ensure", `{"name":"backend"}`},
		{http.MethodGet, "/runtime/windows", ""},
		{http.MethodGet, "/runtime/buffer?windowId=win-1", ""},
	} {
		req := httptest.NewRequest(route.method, route.path, strings.NewReader(route.body))
		w := httptest.NewRecorder()
		s.Engine().ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotImplemented, w.Code, route.path)
	}
}

// snapshotRuntime returns fixed screen content for buffer captures.
type snapshotRuntime struct{ content string }

func (r *snapshotRuntime) TypeKeys(ctx context.Context, windowID, text string) error { return nil }
func (r *snapshotRuntime) SendEnter(ctx context.Context, windowID string) error      { return nil }
func (r *snapshotRuntime) CapturePane(ctx context.Context, windowID string) (string, error) {
	return r.content, nil
}
func (r *snapshotRuntime) ListWindows(ctx context.Context) ([]runtime.WindowInfo, error) {
	return nil, nil
}
func (r *snapshotRuntime) FocusWindow(ctx context.Context, windowID string) error { return nil }
func (r *snapshotRuntime) KillWindow(ctx context.Context, windowID string) error  { return nil }
func (r *snapshotRuntime) EnsureWindow(ctx context.Context, name, dir, command string) error {
	return nil
}

// The buffer endpoint always answers with the full current screen; a since
// cursor never narrows it.
func TestRuntimeBufferAlwaysFullSnapshot(t *testing.T) {
	s, f := newServerFixture(t, "")
	f.pipeline.rt = &snapshotRuntime{content: "❯ build ok\nall tests passed"}

	for _, path := range []string{
		"/runtime/buffer?windowId=win-1",
		"/runtime/buffer?windowId=win-1&since=1724580000000",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Engine().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), "all tests passed", path)
	}
}

func TestSendFilesValidation(t *testing.T) {
	s, f := newServerFixture(t, "")

	// Paths outside the project root are refused outright.
	body, _ := json.Marshal(map[string]interface{}{
		"projectName": "myapp",
		"files":       []string{"/etc/passwd"},
	})
	req := httptest.NewRequest(http.MethodPost, "/send-files", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.client.Files())

	body, _ = json.Marshal(map[string]interface{}{"projectName": "myapp"})
	req = httptest.NewRequest(http.MethodPost, "/send-files", bytes.NewReader(body))
	w = httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReloadEndpoint(t *testing.T) {
	s, _ := newServerFixture(t, "")

	called := 0
	s.ReloadFunc = func() error { called++; return nil }

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, called)

	s.ReloadFunc = func() error { return fmt.Errorf("boom") }
	req = httptest.NewRequest(http.MethodPost, "/reload", nil)
	w = httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
