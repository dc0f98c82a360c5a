package types

import "encoding/json"

// Invocation is a resolved intent: the action to run and its parameters.
type Invocation struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// Param returns the named parameter and whether it was present.
func (i Invocation) Param(name string) (any, bool) {
	if i.Parameters == nil {
		return nil, false
	}
	v, ok := i.Parameters[name]
	return v, ok
}

// Clone returns a copy whose parameters share no maps or slices with i.
func (i Invocation) Clone() Invocation {
	return Invocation{Action: i.Action, Parameters: cloneMap(i.Parameters)}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// String renders the invocation in the intent wire format.
func (i Invocation) String() string {
	params := i.Parameters
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(Invocation{Action: i.Action, Parameters: params})
	if err != nil {
		return `{"action":"` + i.Action + `","parameters":{}}`
	}
	return string(b)
}

type ProcessIntentRequest struct {
	Text       string `json:"text"`
	Preference string `json:"preference,omitempty"`
}

type ProcessIntentResponse struct {
	Resolved bool  `json:"resolved"`
	Task     *Task `json:"task,omitempty"`
}

type Task struct {
	Id         string         `json:"id"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	Status     string         `json:"status"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  string         `json:"createdAt"`
	UpdatedAt  string         `json:"updatedAt"`
}

type ListTasksResponse struct {
	Tasks []Task `json:"tasks"`
	Total int    `json:"total"`
}

type GetTaskRequest struct {
	Id string `path:"id"`
}

type ResolveTaskRequest struct {
	Id     string `path:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ListActionsResponse struct {
	Actions []ActionInfo `json:"actions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ScheduleInfo struct {
	Name      string `json:"name"`
	Spec      string `json:"spec"`
	Intent    string `json:"intent"`
	Next      string `json:"next,omitempty"`
	LastRun   string `json:"lastRun,omitempty"`
	LastTask  string `json:"lastTask,omitempty"`
	LastError string `json:"lastError,omitempty"`
	RunCount  int    `json:"runCount"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleInfo `json:"schedules"`
}

type TriggerScheduleRequest struct {
	Name string `path:"name"`
}

type TaskDataRequest struct {
	Id      string `path:"id"`
	Payload any    `json:"payload"`
}

type RouteInfo struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Pick []string `json:"pick,omitempty"`
}

type RouteSummary struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Transformed bool   `json:"transformed"`
}

type ListRoutesResponse struct {
	Routes []RouteSummary `json:"routes"`
}

type RemoveRouteRequest struct {
	From string `form:"from"`
}
