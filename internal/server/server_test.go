package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/config"
	"github.com/neboloop/intentcore/internal/events"
	"github.com/neboloop/intentcore/internal/svc"
	"github.com/neboloop/intentcore/internal/types"
)

func newTestServer(t *testing.T, backend *ai.ScriptedProvider) (*svc.ServiceContext, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Schedules = []config.ScheduleConfig{{Name: "clock", Spec: "@daily", Intent: `{"action":"system.time"}`}}

	svcCtx, err := svc.NewServiceContext(context.Background(), cfg, svc.WithoutStore(), svc.WithBackend(backend))
	require.NoError(t, err)

	srv := httptest.NewServer(New(svcCtx).Handler())
	t.Cleanup(func() {
		srv.Close()
		svcCtx.Close()
	})
	return svcCtx, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestProcessIntentAndGetTask(t *testing.T) {
	_, srv := newTestServer(t, ai.NewScriptedProvider())

	resp := postJSON(t, srv.URL+"/api/v1/intents", types.ProcessIntentRequest{
		Text: `{"action":"system.echo","parameters":{"x":1}}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out types.ProcessIntentResponse
	decode(t, resp, &out)
	require.True(t, out.Resolved)
	assert.Equal(t, "completed", out.Task.Status)
	assert.Equal(t, map[string]any{"x": float64(1)}, out.Task.Result)

	resp, err := http.Get(srv.URL + "/api/v1/tasks/" + out.Task.Id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var task types.Task
	decode(t, resp, &task)
	assert.Equal(t, out.Task.Id, task.Id)

	resp, err = http.Get(srv.URL + "/api/v1/tasks")
	require.NoError(t, err)
	var list types.ListTasksResponse
	decode(t, resp, &list)
	assert.Equal(t, 1, list.Total)

	resp, err = http.Get(srv.URL + "/api/v1/tasks/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnresolvedIntent(t *testing.T) {
	_, srv := newTestServer(t, ai.NewScriptedProvider([]string{"I am not sure what you mean."}))

	resp := postJSON(t, srv.URL+"/api/v1/intents", types.ProcessIntentRequest{Text: "hmm"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out types.ProcessIntentResponse
	decode(t, resp, &out)
	assert.False(t, out.Resolved)
	assert.Nil(t, out.Task)
}

func TestProcessIntentValidation(t *testing.T) {
	_, srv := newTestServer(t, ai.NewScriptedProvider())

	resp := postJSON(t, srv.URL+"/api/v1/intents", types.ProcessIntentRequest{Text: " "})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/intents", types.ProcessIntentRequest{Text: "x", Preference: "edge"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBackendUnavailable(t *testing.T) {
	backend := ai.NewScriptedProvider()
	backend.HandshakeErr = &net.OpError{Op: "dial", Net: "tcp", Err: assert.AnError}
	_, srv := newTestServer(t, backend)

	resp := postJSON(t, srv.URL+"/api/v1/intents", types.ProcessIntentRequest{Text: "open my photos"})
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestResolveOpenApp(t *testing.T) {
	_, srv := newTestServer(t, ai.NewScriptedProvider())

	resp := postJSON(t, srv.URL+"/api/v1/intents", types.ProcessIntentRequest{
		Text: `{"action":"open_app","parameters":{"app":"gallery"}}`,
	})
	var out types.ProcessIntentResponse
	decode(t, resp, &out)
	require.Equal(t, "running", out.Task.Status)

	resp = postJSON(t, srv.URL+"/api/v1/tasks/"+out.Task.Id+"/resolve", map[string]any{"result": "closed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var task types.Task
	decode(t, resp, &task)
	assert.Equal(t, "completed", task.Status)

	resp = postJSON(t, srv.URL+"/api/v1/tasks/"+out.Task.Id+"/resolve", map[string]any{"error": "again"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCatalog(t *testing.T) {
	_, srv := newTestServer(t, ai.NewScriptedProvider())

	resp, err := http.Get(srv.URL + "/api/v1/actions")
	require.NoError(t, err)
	var actions types.ListActionsResponse
	decode(t, resp, &actions)
	require.Len(t, actions.Actions, 3)
	assert.Equal(t, "chat.ask", actions.Actions[0].Name)
	assert.NotEmpty(t, actions.Actions[0].Description)

	resp, err = http.Get(srv.URL + "/api/v1/schedules")
	require.NoError(t, err)
	var schedules types.ListSchedulesResponse
	decode(t, resp, &schedules)
	require.Len(t, schedules.Schedules, 1)
	assert.Equal(t, "clock", schedules.Schedules[0].Name)

	resp = postJSON(t, srv.URL+"/api/v1/schedules/clock/trigger", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out types.ProcessIntentResponse
	decode(t, resp, &out)
	assert.Equal(t, "system.time", out.Task.Action)

	resp = postJSON(t, srv.URL+"/api/v1/schedules/nope/trigger", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, ai.NewScriptedProvider())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health types.HealthResponse
	decode(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "dev", health.Version)
}

func TestRunStopsOnCancel(t *testing.T) {
	svcCtx, _ := newTestServer(t, ai.NewScriptedProvider())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(svcCtx).Run(ctx, Options{Listener: ln}) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRoutesAndTaskDataStream(t *testing.T) {
	svcCtx, srv := newTestServer(t, ai.NewScriptedProvider())

	resp := postJSON(t, srv.URL+"/api/v1/intents", types.ProcessIntentRequest{
		Text: `{"action":"open_app","parameters":{"app":"gallery"}}`,
	})
	var out types.ProcessIntentResponse
	decode(t, resp, &out)
	require.Equal(t, "running", out.Task.Status)
	taskID := out.Task.Id

	resp = postJSON(t, srv.URL+"/api/v1/routes", types.RouteInfo{From: "data:" + taskID, To: "preview", Pick: []string{"progress"}})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/routes", types.RouteInfo{From: "", To: "preview"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/api/v1/routes")
	require.NoError(t, err)
	var routes types.ListRoutesResponse
	decode(t, resp, &routes)
	require.Len(t, routes.Routes, 1)
	assert.Equal(t, types.RouteSummary{From: "data:" + taskID, To: "preview", Transformed: true}, routes.Routes[0])

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stream/preview", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return svcCtx.Stream.Subscribers("preview") == 1 }, 2*time.Second, 10*time.Millisecond)

	resp = postJSON(t, srv.URL+"/api/v1/tasks/"+taskID+"/data", map[string]any{
		"payload": map[string]any{"progress": 0.5, "noise": true},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg events.StreamMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "data:"+taskID, msg.From)
	assert.Equal(t, "preview", msg.To)
	assert.Equal(t, map[string]any{"progress": 0.5}, msg.Payload)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/routes?from=data:"+taskID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTaskDataRejectsFinishedTask(t *testing.T) {
	_, srv := newTestServer(t, ai.NewScriptedProvider())

	resp := postJSON(t, srv.URL+"/api/v1/intents", types.ProcessIntentRequest{Text: `{"action":"system.echo"}`})
	var out types.ProcessIntentResponse
	decode(t, resp, &out)

	resp = postJSON(t, srv.URL+"/api/v1/tasks/"+out.Task.Id+"/data", map[string]any{"payload": 1})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/tasks/nope/data", map[string]any{"payload": 1})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
