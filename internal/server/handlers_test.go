package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoy-ai/convoy/internal/ordering"
	"github.com/convoy-ai/convoy/internal/reconcile"
	"github.com/convoy-ai/convoy/internal/refresh"
	"github.com/convoy-ai/convoy/internal/session"
	"github.com/convoy-ai/convoy/internal/steering"
	"github.com/convoy-ai/convoy/internal/storage"
	"github.com/convoy-ai/convoy/internal/task"
	"github.com/convoy-ai/convoy/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *steering.Manager, *task.Registry) {
	t.Helper()

	store := storage.New(t.TempDir())
	alloc := ordering.NewAllocator(store)
	rec := reconcile.New(store, alloc)
	svc := session.NewService(store, alloc, rec)

	steer := steering.NewManager(types.DefaultConfig().Steering)
	bus := task.NewBus(0)
	t.Cleanup(func() { bus.Close() })
	registry := task.NewRegistry(bus, 8)

	focus := refresh.NewFocusTracker()
	coordinator := refresh.New(
		func(ctx context.Context, sessionID string, mode types.RefreshMode) error { return nil },
		focus.Get,
		types.DefaultConfig().Refresh,
	)
	t.Cleanup(coordinator.Dispose)

	cfg := DefaultConfig()
	srv := New(cfg, svc, alloc, steer, bus, registry, coordinator, focus)
	return srv, steer, registry
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestSessionLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/session", map[string]string{"title": "demo"})
	require.Equal(t, http.StatusCreated, rr.Code)

	var sess types.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "demo", sess.Title)

	rr = doJSON(t, srv, http.MethodGet, "/session/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, srv, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []types.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rr = doJSON(t, srv, http.MethodDelete, "/session/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, srv, http.MethodGet, "/session/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSendMessage_StampsOrderingIndex(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/session", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var sess types.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess))

	for i := 1; i <= 3; i++ {
		rr = doJSON(t, srv, http.MethodPost, "/session/"+sess.ID+"/message", map[string]any{
			"role": "user",
			"parts": []map[string]any{
				{"type": "text", "id": fmt.Sprintf("p%d", i), "text": "hello"},
			},
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		var msg types.Message
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
		assert.Equal(t, int64(i), msg.OrderingIndex)
	}

	rr = doJSON(t, srv, http.MethodGet, "/session/"+sess.ID+"/message", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 3)
}

func TestSendMessage_UnknownSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/session/nope/message", map[string]any{
		"role": "user",
		"parts": []map[string]any{
			{"type": "text", "id": "p1", "text": "hi"},
		},
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSendMessage_RejectsUnknownPartType(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/session", nil)
	var sess types.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess))

	rr = doJSON(t, srv, http.MethodPost, "/session/"+sess.ID+"/message", map[string]any{
		"role": "user",
		"parts": []map[string]any{
			{"type": "hologram", "id": "p1"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestValidateSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/session", nil)
	var sess types.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess))

	rr = doJSON(t, srv, http.MethodPost, "/session/"+sess.ID+"/message", map[string]any{
		"role": "user",
		"parts": []map[string]any{
			{"type": "text", "id": "p1", "text": "hello"},
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, srv, http.MethodGet, "/session/"+sess.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var report ordering.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Messages)

	rr = doJSON(t, srv, http.MethodGet, "/session/missing/validate", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSteerSession(t *testing.T) {
	srv, steer, _ := newTestServer(t)

	// No active run: queue absent.
	rr := doJSON(t, srv, http.MethodPost, "/session/s1/steer", map[string]string{
		"content": "actually use staging",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, ErrCodeQueueAbsent, errResp.Error.Code)

	// With an active run the entry lands in the queue.
	steer.Create("run1", "s1")
	rr = doJSON(t, srv, http.MethodPost, "/session/s1/steer", map[string]string{
		"content": "actually use staging",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, steer.Pending("run1"))

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp["stopIntent"])

	rr = doJSON(t, srv, http.MethodPost, "/session/s1/steer", map[string]string{
		"content": "never mind, cancel the deploy",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp["stopIntent"])
}

func TestSteerSession_EmptyContent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/session/s1/steer", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRefreshSession_Accepted(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/session/s1/refresh", map[string]any{
		"mode": "full", "immediate": true,
	})
	assert.Equal(t, http.StatusAccepted, rr.Code)

	// Empty body defaults to incremental mode.
	rr = doJSON(t, srv, http.MethodPost, "/session/s1/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestListTasks(t *testing.T) {
	srv, _, registry := newTestServer(t)

	registry.Register(types.Task{ID: "t1", UserID: "alice", Kind: "channel"})
	registry.Register(types.Task{ID: "t2", UserID: "bob", Kind: "channel"})

	rr := doJSON(t, srv, http.MethodGet, "/task", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var all []types.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rr = doJSON(t, srv, http.MethodGet, "/task?userID=alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var mine []types.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "t1", mine[0].ID)

	registry.Complete("t1", "", "done")
	rr = doJSON(t, srv, http.MethodGet, "/task/recent", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var recent []types.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recent))
	require.Len(t, recent, 1)
	assert.Equal(t, "completed", recent[0].Status)
}

func TestReconcileEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/session", nil)
	var sess types.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess))

	body := map[string]any{
		"messages": []map[string]any{
			{
				"id":        "m1",
				"sessionID": sess.ID,
				"role":      "assistant",
				"parts": []map[string]any{
					{"type": "tool-call", "id": "p1", "toolCallID": "tc1", "toolName": "search", "state": "pending"},
				},
			},
		},
	}
	rr = doJSON(t, srv, http.MethodPost, "/session/"+sess.ID+"/reconcile", body)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp reconcileResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{"tc1"}, resp.MissingResults)
	assert.Len(t, resp.Messages, 1)
}

func TestTaskEventsStreamLimit(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.sseSem.TryAcquire(srv.config.MaxSSEStreams)
	defer srv.sseSem.Release(srv.config.MaxSSEStreams)

	rr := doJSON(t, srv, http.MethodGet, "/event", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
