package handler

import (
	"net/http"
	"time"

	"github.com/neboloop/intentcore/internal/httputil"
	"github.com/neboloop/intentcore/internal/svc"
	"github.com/neboloop/intentcore/internal/types"
)

func HealthCheckHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, &types.HealthResponse{
			Status:    "healthy",
			Version:   svcCtx.Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}
