package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/intentcore/internal/ai"
)

func newSession(t *testing.T, p ai.Provider) *ai.Session {
	t.Helper()
	s, err := ai.Create(context.Background(), ai.Local, ai.Options{Backend: p})
	require.NoError(t, err)
	return s
}

func TestParseNotJSON(t *testing.T) {
	p := NewParser()
	s := newSession(t, ai.NewScriptedProvider([]string{"not json at all"}))

	assert.Nil(t, p.Parse(context.Background(), s, "do something", nil))
}

func TestParseEmptyReply(t *testing.T) {
	p := NewParser()
	s := newSession(t, ai.NewScriptedProvider([]string{}))

	assert.Nil(t, p.Parse(context.Background(), s, "do something", nil))
}

func TestParseBackendError(t *testing.T) {
	p := NewParser()
	backend := ai.NewScriptedProvider()
	backend.ReplyThenFail(errors.New("stream reset"), `{"action":`)
	s := newSession(t, backend)

	assert.Nil(t, p.Parse(context.Background(), s, "do something", nil))
	assert.Empty(t, s.History())
}

func TestParseStreamedDescriptor(t *testing.T) {
	p := NewParser()
	backend := ai.NewScriptedProvider([]string{
		"Sure! Here you go:\n",
		`{"action": "vault.copy", `,
		`"parameters": {"from": "a", "to": "b"}}`,
		"\nLet me know if you need more.",
	})
	s := newSession(t, backend)

	d := p.Parse(context.Background(), s, "copy a to b", []string{"vault.copy", "vault.move"})
	require.NotNil(t, d)
	assert.Equal(t, "vault.copy", d.Action)
	assert.Equal(t, map[string]any{"from": "a", "to": "b"}, d.Parameters)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	prompt := reqs[0].Messages[len(reqs[0].Messages)-1].Text
	assert.Contains(t, prompt, "vault.copy, vault.move")
	assert.Contains(t, prompt, "Command: copy a to b")
}

func TestParseDirectJSON(t *testing.T) {
	backend := ai.NewScriptedProvider()
	s := newSession(t, backend)

	d := NewParser().Parse(context.Background(), s, `{"action":"system.echo","parameters":{"x":1}}`, nil)
	require.NotNil(t, d)
	assert.Equal(t, "system.echo", d.Action)
	assert.Equal(t, map[string]any{"x": float64(1)}, d.Parameters)
	assert.Empty(t, backend.Requests())
}

func TestParseDirectJSONDisabled(t *testing.T) {
	backend := ai.NewScriptedProvider([]string{`{"action":"other"}`})
	s := newSession(t, backend)

	d := NewParser(WithDirectJSON(false)).Parse(context.Background(), s, `{"action":"system.echo"}`, nil)
	require.NotNil(t, d)
	assert.Equal(t, "other", d.Action)
	assert.Len(t, backend.Requests(), 1)
}

func TestParseWithoutSession(t *testing.T) {
	p := NewParser()
	assert.Nil(t, p.Parse(context.Background(), nil, "turn on the lights", nil))
	assert.NotNil(t, p.Parse(context.Background(), nil, `{"action":"lights.on"}`, nil))
	assert.Nil(t, p.Parse(context.Background(), nil, "   ", nil))
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		action string
		params map[string]any
	}{
		{name: "no brace", reply: "nothing here"},
		{name: "empty", reply: ""},
		{name: "malformed", reply: `{"action": "x", "parameters": {`},
		{name: "missing action", reply: `{"parameters": {}}`},
		{name: "blank action", reply: `{"action": "  "}`},
		{name: "action not a string", reply: `{"action": 7}`},
		{name: "parameters not an object", reply: `{"action": "x", "parameters": [1]}`},
		{
			name:   "missing parameters",
			reply:  `{"action": "system.time"}`,
			action: "system.time",
			params: map[string]any{},
		},
		{
			name:   "code fence and trailing comma",
			reply:  "```json\n{\"action\": \"files.tag\", \"parameters\": {\"tag\": \"red\",},}\n```",
			action: "files.tag",
			params: map[string]any{"tag": "red"},
		},
		{
			name:   "comments",
			reply:  "{\n  // chosen action\n  \"action\": \"media.scan\", /* none */ \"parameters\": {}\n}",
			action: "media.scan",
			params: map[string]any{},
		},
		{
			name:   "first object wins",
			reply:  `{"action": "a"} {"action": "b"}`,
			action: "a",
			params: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Extract(tt.reply)
			if tt.action == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.params, d.Parameters)
		})
	}
}
