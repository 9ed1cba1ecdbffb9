package http

import (
	"net/http"
	"strconv"

	"finary/internal/dashboard"
	"finary/internal/identity"
	"finary/internal/log"
)

// dashboardResponse is the session view plus the insight when it is already
// cached. InsightPending tells the client to fetch /api/insight.
type dashboardResponse struct {
	dashboard.View
	Insight        string `json:"insight,omitempty"`
	InsightPending bool   `json:"insight_pending"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := identity.FromContext(ctx)
	if !ok {
		UnauthorizedError().Write(w)
		return
	}

	sess := s.deps.Sessions.Session(ident)

	var err error
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		err = sess.Reload(ctx)
	} else {
		err = sess.EnsureLoaded(ctx)
	}
	if err != nil {
		// The view still holds the last good state.
		log.FromContext(ctx).WithComponent(log.ComponentDashboard).WarnContext(ctx, "Dashboard load failed",
			log.FieldError, err)
	}

	resp := dashboardResponse{View: sess.View()}
	if text, cached := s.deps.Insights.Peek(ident.SessionKey()); cached {
		resp.Insight = text
	} else {
		resp.InsightPending = true
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	ident, _ := identity.FromContext(r.Context())
	text := s.deps.Insights.Get(r.Context(), ident)
	NewJSONResponse().Body(map[string]string{"insight": text}).Write(w)
}

// handleEndSession forgets the caller's dashboard state and cached insight.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		UnauthorizedError().Write(w)
		return
	}

	key := ident.SessionKey()
	s.deps.Sessions.End(key)
	s.deps.Insights.EndSession(key)

	log.FromContext(r.Context()).WithComponent(log.ComponentHTTP).InfoContext(r.Context(), "Session ended")
	w.WriteHeader(http.StatusNoContent)
}
