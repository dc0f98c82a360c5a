package events

import "github.com/neboloop/intentcore/internal/types"

// Kind identifies one of the task lifecycle events.
type Kind string

const (
	KindAction   Kind = "action"
	KindLaunch   Kind = "launch"
	KindData     Kind = "data"
	KindComplete Kind = "complete"
	KindFail     Kind = "fail"
)

// Kinds lists every event kind in lifecycle order.
var Kinds = []Kind{KindAction, KindLaunch, KindData, KindComplete, KindFail}

// Event is a tagged union over the lifecycle kinds. Only the fields that
// belong to Kind are set.
type Event struct {
	Kind   Kind
	TaskID string

	// KindAction
	Invocation *types.Invocation

	// KindLaunch
	App    string
	Params map[string]any

	// KindData
	Payload any

	// KindComplete
	Result any

	// KindFail
	Err error
}

func Action(taskID string, inv types.Invocation) Event {
	return Event{Kind: KindAction, TaskID: taskID, Invocation: &inv}
}

func Launch(taskID, app string, params map[string]any) Event {
	return Event{Kind: KindLaunch, TaskID: taskID, App: app, Params: params}
}

func Data(taskID string, payload any) Event {
	return Event{Kind: KindData, TaskID: taskID, Payload: payload}
}

func Complete(taskID string, result any) Event {
	return Event{Kind: KindComplete, TaskID: taskID, Result: result}
}

func Fail(taskID string, err error) Event {
	return Event{Kind: KindFail, TaskID: taskID, Err: err}
}
