package catalog

import (
	"errors"
	"net/http"
	"strings"

	"github.com/neboloop/intentcore/internal/httputil"
	"github.com/neboloop/intentcore/internal/router"
	"github.com/neboloop/intentcore/internal/svc"
	"github.com/neboloop/intentcore/internal/types"
)

// ListRoutesHandler returns the active router routes
func ListRoutesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routes := svcCtx.Router.Routes()
		resp := types.ListRoutesResponse{Routes: make([]types.RouteSummary, len(routes))}
		for i, rt := range routes {
			resp.Routes[i] = types.RouteSummary{From: rt.From, To: rt.To, Transformed: rt.Transform != nil}
		}
		httputil.OkJSON(w, resp)
	}
}

// AddRouteHandler adds or replaces a route. Routes added here last until
// the next config reload.
func AddRouteHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RouteInfo
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err)
			return
		}

		rt := router.Route{From: req.From, To: req.To}
		if len(req.Pick) > 0 {
			rt.Transform = router.Pick(req.Pick...)
		}
		if err := svcCtx.Router.AddRoute(rt); err != nil {
			if errors.Is(err, router.ErrInvalidRoute) {
				httputil.BadRequest(w, err)
				return
			}
			httputil.ErrorWithCode(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

// RemoveRouteHandler deletes the route keyed by ?from=
func RemoveRouteHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RemoveRouteRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err)
			return
		}
		if strings.TrimSpace(req.From) == "" {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "from is required")
			return
		}

		if !svcCtx.Router.RemoveRoute(req.From) {
			httputil.NotFound(w, "route not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
