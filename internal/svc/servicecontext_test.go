package svc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/config"
	"github.com/neboloop/intentcore/internal/events"
	"github.com/neboloop/intentcore/internal/orchestrator"
	"github.com/neboloop/intentcore/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "intentcore")
	return cfg
}

func TestNewServiceContextWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Routes = []config.RouteConfig{{From: "system.time", To: "system.echo", Pick: []string{"timezone"}}}
	cfg.Schedules = []config.ScheduleConfig{{Name: "tick", Spec: "@hourly", Intent: `{"action":"system.time"}`}}

	backend := ai.NewScriptedProvider()
	svcCtx, err := NewServiceContext(context.Background(), cfg, WithBackend(backend))
	require.NoError(t, err)
	defer svcCtx.Close()

	assert.Equal(t, []string{"chat.ask", "system.echo", "system.time"}, svcCtx.Registry.List())
	assert.Len(t, svcCtx.Router.Routes(), 1)
	assert.Len(t, svcCtx.Scheduler.Jobs(), 1)
	assert.Equal(t, 1, svcCtx.Bus.Subscribers(events.KindComplete))

	task, err := svcCtx.Orchestrator.ProcessIntent(context.Background(), `{"action":"system.time"}`, "")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, task.Status)

	tasks := svcCtx.Orchestrator.Tasks()
	require.Len(t, tasks, 2, "completion chained into system.echo")
	assert.Equal(t, "system.echo", tasks[1].Invocation.Action)
	assert.Equal(t, map[string]any{"timezone": "Local"}, tasks[1].Result)
}

func TestDispatchLoopChainsOffTheCallerGoroutine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.DispatchLoop = true
	cfg.Routes = []config.RouteConfig{{From: "system.time", To: "system.echo"}}

	svcCtx, err := NewServiceContext(context.Background(), cfg, WithoutStore(), WithBackend(ai.NewScriptedProvider()))
	require.NoError(t, err)
	defer svcCtx.Close()

	task, err := svcCtx.Orchestrator.ProcessIntent(context.Background(), `{"action":"system.time"}`, "")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, task.Status)

	require.Eventually(t, func() bool {
		tasks := svcCtx.Orchestrator.Tasks()
		return len(tasks) == 2 && tasks[1].Status == orchestrator.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "system.echo", svcCtx.Orchestrator.Tasks()[1].Invocation.Action)
}

func TestChatSessionPersistsTurns(t *testing.T) {
	cfg := testConfig(t)
	backend := ai.NewScriptedProvider([]string{"first answer"}, []string{"second answer"})

	svcCtx, err := NewServiceContext(context.Background(), cfg, WithBackend(backend))
	require.NoError(t, err)
	defer svcCtx.Close()

	task, err := svcCtx.Orchestrator.ProcessIntent(context.Background(),
		`{"action":"chat.ask","parameters":{"prompt":"hello"}}`, ai.Local)
	require.NoError(t, err)
	require.Equal(t, orchestrator.StatusCompleted, task.Status)

	msgs, err := svcCtx.Store.Load(context.Background(), "chat")
	require.NoError(t, err)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Text: "hello"},
		{Role: ai.RoleAssistant, Text: "first answer"},
	}, msgs)

	// the next chat session is seeded from the log
	_, err = svcCtx.Orchestrator.ProcessIntent(context.Background(),
		`{"action":"chat.ask","parameters":{"prompt":"again"}}`, ai.Local)
	require.NoError(t, err)
	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)
}

func TestParseSessionsStayOutOfTheLog(t *testing.T) {
	cfg := testConfig(t)
	backend := ai.NewScriptedProvider([]string{`{"action":"system.echo","parameters":{"a":"b"}}`})

	svcCtx, err := NewServiceContext(context.Background(), cfg, WithBackend(backend))
	require.NoError(t, err)
	defer svcCtx.Close()

	task, err := svcCtx.Orchestrator.ProcessIntent(context.Background(), "echo a=b", ai.Local)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, map[string]any{"a": "b"}, task.Result)

	convs, err := svcCtx.Store.Conversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestApplyRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	svcCtx, err := NewServiceContext(context.Background(), cfg, WithoutStore(), WithBackend(ai.NewScriptedProvider()))
	require.NoError(t, err)
	defer svcCtx.Close()

	next := testConfig(t)
	next.Schedules = []config.ScheduleConfig{{Name: "bad", Spec: "every tuesday", Intent: "x"}}
	assert.Error(t, svcCtx.Apply(next))
	assert.Same(t, next, svcCtx.Config())
}

func TestSessionOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Cloud.Provider = "openai"
	cfg.Backend.Cloud.Model = "gpt-4o"

	svcCtx, err := NewServiceContext(context.Background(), cfg, WithoutStore())
	require.NoError(t, err)
	defer svcCtx.Close()

	local := svcCtx.SessionOptions(ai.Local)
	assert.Equal(t, "ollama", local.Provider)
	assert.Equal(t, cfg.Backend.Local.BaseURL, local.BaseURL)

	cloud := svcCtx.SessionOptions(ai.Cloud)
	assert.Equal(t, "openai", cloud.Provider)
	assert.Equal(t, "gpt-4o", cloud.Model)
}

func TestFailuresAreRecorded(t *testing.T) {
	cfg := testConfig(t)
	svcCtx, err := NewServiceContext(context.Background(), cfg, WithBackend(ai.NewScriptedProvider()))
	require.NoError(t, err)
	defer svcCtx.Close()

	require.NoError(t, svcCtx.Registry.Register("files.broken", func(context.Context, map[string]any, string) (any, error) {
		panic("boom")
	}))

	task, err := svcCtx.Orchestrator.ProcessIntent(context.Background(), `{"action":"files.broken"}`, "")
	require.NoError(t, err)
	require.Equal(t, orchestrator.StatusFailed, task.Status)

	logs, err := svcCtx.Store.ErrorLogs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, store.LevelPanic, logs[0].Level)
	assert.Equal(t, "files.broken", logs[0].Module)
	assert.Contains(t, logs[0].Message, "handler panic: boom")
	assert.NotEmpty(t, logs[0].Stacktrace)
	assert.Equal(t, task.ID, logs[0].Context["task_id"])
}
