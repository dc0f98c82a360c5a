package tasks

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/httputil"
	"github.com/neboloop/intentcore/internal/orchestrator"
	"github.com/neboloop/intentcore/internal/svc"
	"github.com/neboloop/intentcore/internal/types"
)

// ProcessIntentHandler parses and dispatches one intent
func ProcessIntentHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ProcessIntentRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "text is required")
			return
		}
		pref, err := ai.ParsePreference(req.Preference, "")
		if err != nil {
			httputil.BadRequest(w, err)
			return
		}

		task, err := svcCtx.Orchestrator.ProcessIntent(r.Context(), req.Text, pref)
		if err != nil {
			writeError(w, svcCtx.Logger, err)
			return
		}

		resp := types.ProcessIntentResponse{Resolved: task != nil}
		if task != nil {
			dto := task.DTO()
			resp.Task = &dto
		}
		httputil.OkJSON(w, resp)
	}
}

// ListTasksHandler returns every task in creation order
func ListTasksHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks := svcCtx.Orchestrator.Tasks()
		resp := types.ListTasksResponse{
			Tasks: make([]types.Task, len(tasks)),
			Total: len(tasks),
		}
		for i, t := range tasks {
			resp.Tasks[i] = t.DTO()
		}
		httputil.OkJSON(w, resp)
	}
}

// GetTaskHandler returns a single task by ID
func GetTaskHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GetTaskRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err)
			return
		}

		task, ok := svcCtx.Orchestrator.GetTask(req.Id)
		if !ok {
			httputil.NotFound(w, "task not found")
			return
		}
		httputil.OkJSON(w, task.DTO())
	}
}

// ResolveTaskHandler finishes a handed-off task
func ResolveTaskHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ResolveTaskRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err)
			return
		}

		var failure error
		if req.Error != "" {
			failure = errors.New(req.Error)
		}
		if err := svcCtx.Orchestrator.Resolve(r.Context(), req.Id, req.Result, failure); err != nil {
			writeError(w, svcCtx.Logger, err)
			return
		}

		task, _ := svcCtx.Orchestrator.GetTask(req.Id)
		httputil.OkJSON(w, task.DTO())
	}
}

// TaskDataHandler emits a data event for a running task
func TaskDataHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.TaskDataRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err)
			return
		}

		if err := svcCtx.Orchestrator.Data(r.Context(), req.Id, req.Payload); err != nil {
			writeError(w, svcCtx.Logger, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var initErr *ai.InitializationError
	switch {
	case errors.As(err, &initErr):
		httputil.ErrorWithCode(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, orchestrator.ErrTaskTerminal), errors.Is(err, orchestrator.ErrTaskNotActive):
		httputil.ErrorWithCode(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrChainTooDeep):
		httputil.ErrorWithCode(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		httputil.ErrorWithCode(w, http.StatusInternalServerError, "internal server error")
	}
}
