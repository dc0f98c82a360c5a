package catalog

import (
	"errors"
	"net/http"
	"time"

	"github.com/neboloop/intentcore/internal/httputil"
	"github.com/neboloop/intentcore/internal/scheduler"
	"github.com/neboloop/intentcore/internal/svc"
	"github.com/neboloop/intentcore/internal/types"
)

// ListActionsHandler describes every registered action
func ListActionsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		descs := svcCtx.Registry.Describe()
		resp := types.ListActionsResponse{Actions: make([]types.ActionInfo, len(descs))}
		for i, d := range descs {
			resp.Actions[i] = types.ActionInfo{Name: d.Name, Description: d.Description}
		}
		httputil.OkJSON(w, resp)
	}
}

// ListSchedulesHandler returns the cron-scheduled intents
func ListSchedulesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := svcCtx.Scheduler.Jobs()
		resp := types.ListSchedulesResponse{Schedules: make([]types.ScheduleInfo, len(jobs))}
		for i, j := range jobs {
			resp.Schedules[i] = types.ScheduleInfo{
				Name:      j.Name,
				Spec:      j.Spec,
				Intent:    j.Intent,
				Next:      formatTime(j.Next),
				LastRun:   formatTime(j.LastRun),
				LastTask:  j.LastTask,
				LastError: j.LastError,
				RunCount:  j.RunCount,
			}
		}
		httputil.OkJSON(w, resp)
	}
}

// TriggerScheduleHandler runs a scheduled intent immediately
func TriggerScheduleHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.TriggerScheduleRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err)
			return
		}

		task, err := svcCtx.Scheduler.Trigger(r.Context(), req.Name)
		if errors.Is(err, scheduler.ErrJobNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		if err != nil {
			httputil.ErrorWithCode(w, http.StatusBadGateway, err.Error())
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

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
