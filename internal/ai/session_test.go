package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type memoryLog struct {
	mu    sync.Mutex
	turns map[string][]Message
}

func (m *memoryLog) Load(ctx context.Context, key string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.turns[key]...), nil
}

func (m *memoryLog) Append(ctx context.Context, key string, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turns == nil {
		m.turns = make(map[string][]Message)
	}
	m.turns[key] = append(m.turns[key], msgs...)
	return nil
}

func newSession(t *testing.T, p Provider, opts Options) *Session {
	t.Helper()
	opts.Backend = p
	s, err := Create(context.Background(), Local, opts)
	require.NoError(t, err)
	return s
}

func TestSendStreamFullConsumptionUpdatesHistory(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewScriptedProvider([]string{"Hel", "lo", "!"})
	s := newSession(t, p, Options{})

	var got []string
	for fragment, err := range s.SendStream(context.Background(), "hi") {
		require.NoError(t, err)
		got = append(got, fragment)
	}

	assert.Equal(t, []string{"Hel", "lo", "!"}, got)
	assert.Equal(t, []Message{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: "Hello!"},
	}, s.History())
}

func TestSendStreamEarlyStopLeavesHistoryUntouched(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewScriptedProvider([]string{"a", "b", "c", "d"})
	s := newSession(t, p, Options{History: []Message{{Role: RoleSystem, Text: "be brief"}}})

	for fragment, err := range s.SendStream(context.Background(), "hi") {
		require.NoError(t, err)
		assert.Equal(t, "a", fragment)
		break
	}

	assert.Equal(t, []Message{{Role: RoleSystem, Text: "be brief"}}, s.History())
}

func TestSendStreamBackendFailureLeavesHistoryUntouched(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("backend exploded")
	p := NewScriptedProvider().ReplyThenFail(boom, "partial")
	s := newSession(t, p, Options{})

	reply, err := s.Collect(context.Background(), "hi")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", reply)
	assert.Empty(t, s.History())
}

func TestSendStreamNotRestartable(t *testing.T) {
	p := NewScriptedProvider([]string{"x"}, []string{"y"})
	s := newSession(t, p, Options{})

	seq := s.SendStream(context.Background(), "hi")
	for _, err := range seq {
		require.NoError(t, err)
	}

	var second error
	for _, err := range seq {
		second = err
	}
	assert.ErrorIs(t, second, ErrStreamConsumed)
	assert.Len(t, p.Requests(), 1)
	assert.Len(t, s.History(), 2)
}

func TestSendStreamSendsHistoryAndSystem(t *testing.T) {
	p := NewScriptedProvider([]string{"one"}, []string{"two"})
	s := newSession(t, p, Options{System: "you route intents", Model: "tiny"})

	_, err := s.Collect(context.Background(), "first")
	require.NoError(t, err)
	_, err = s.Collect(context.Background(), "second")
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "you route intents", reqs[1].System)
	assert.Equal(t, "tiny", reqs[1].Model)
	assert.Equal(t, []Message{
		{Role: RoleUser, Text: "first"},
		{Role: RoleAssistant, Text: "one"},
		{Role: RoleUser, Text: "second"},
	}, reqs[1].Messages)
	assert.Len(t, s.History(), 4)
}

func TestSendStreamDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &ScriptedProvider{Hang: true}
	s := newSession(t, p, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Collect(ctx, "hi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.History())
}

func TestCreateSeedsFromLogAndPersistsTurns(t *testing.T) {
	log := &memoryLog{}
	require.NoError(t, log.Append(context.Background(), "k1",
		Message{Role: RoleUser, Text: "earlier"},
		Message{Role: RoleAssistant, Text: "reply"}))

	p := NewScriptedProvider([]string{"now"})
	s := newSession(t, p, Options{Log: log, SessionKey: "k1"})
	assert.Len(t, s.History(), 2)

	_, err := s.Collect(context.Background(), "again")
	require.NoError(t, err)

	stored, _ := log.Load(context.Background(), "k1")
	assert.Len(t, stored, 4)
	assert.Equal(t, Message{Role: RoleAssistant, Text: "now"}, stored[3])
}

func TestCreateExplicitHistoryWinsOverLog(t *testing.T) {
	log := &memoryLog{}
	require.NoError(t, log.Append(context.Background(), "k1", Message{Role: RoleUser, Text: "stored"}))

	s := newSession(t, NewScriptedProvider(), Options{
		Log:        log,
		SessionKey: "k1",
		History:    []Message{{Role: RoleSystem, Text: "seed"}},
	})
	assert.Equal(t, []Message{{Role: RoleSystem, Text: "seed"}}, s.History())
}

func TestCreateHandshakeFailure(t *testing.T) {
	p := &ScriptedProvider{HandshakeErr: errors.New("connection refused")}

	_, err := Create(context.Background(), Local, Options{Backend: p})
	require.Error(t, err)

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, Local, initErr.Backend)
	assert.Equal(t, "scripted", initErr.Provider)
	assert.Equal(t, "unreachable", initErr.Reason)
}

func TestCreateCloudMissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("INTENTCORE_KEYRING_DISABLED", "1")

	_, err := Create(context.Background(), Cloud, Options{Provider: "anthropic"})
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Equal(t, "auth", initErr.Reason)
}

func TestCreateUnknownProviderAndBackend(t *testing.T) {
	_, err := Create(context.Background(), Local, Options{Provider: "llamafile"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = Create(context.Background(), Cloud, Options{Provider: "mystery"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = Create(context.Background(), Preference("edge"), Options{})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestParsePreference(t *testing.T) {
	p, err := ParsePreference("", Cloud)
	require.NoError(t, err)
	assert.Equal(t, Cloud, p)

	p, err = ParsePreference(" LOCAL ", Cloud)
	require.NoError(t, err)
	assert.Equal(t, Local, p)

	_, err = ParsePreference("hybrid", Local)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestParseRole(t *testing.T) {
	testCases := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"user", RoleUser, true},
		{"model", RoleAssistant, true},
		{"Assistant", RoleAssistant, true},
		{"system", RoleSystem, true},
		{"tool", "", false},
	}
	for _, tc := range testCases {
		got, ok := ParseRole(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestClassifyErrorReason(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{nil, "other"},
		{context.DeadlineExceeded, "timeout"},
		{ErrMissingAPIKey, "auth"},
		{&ProviderError{Code: "rate_limit_exceeded", Message: "slow"}, "rate_limit"},
		{errors.New("HTTP 429 Too Many Requests"), "rate_limit"},
		{errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), "unreachable"},
		{errors.New("something odd"), "other"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, ClassifyErrorReason(tc.err), "%v", tc.err)
	}
}
