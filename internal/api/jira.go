package api

import (
	"net/http"

	"github.com/surya-s-1/captain-tool-integrations/internal/jira"
)

// handleJiraStatus handles GET /tools/jira/status.
func (s *Server) handleJiraStatus(w http.ResponseWriter, r *http.Request) {
	connected, err := s.cfg.Connections.Connected(r.Context(), uidFrom(r))
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "failed to read connection", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": connected})
}

// handleJiraConnect handles POST /tools/jira/connect. It records the state
// the callback must present and returns the consent URL.
func (s *Server) handleJiraConnect(w http.ResponseWriter, r *http.Request) {
	uid := uidFrom(r)
	state := jira.StateFor(uid)
	if err := s.cfg.Store.SaveAuthState(r.Context(), jira.ToolName, uid, state); err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "failed to save auth state", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": s.cfg.OAuth.AuthCodeURL(state)})
}

// handleJiraCallback handles GET /tools/jira/auth/callback. The browser
// arrives here from Atlassian without the uid header; the uid is recovered
// from the state, which must match the one saved on connect.
func (s *Server) handleJiraCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		WriteJSONError(w, http.StatusBadRequest, "authorization denied", e+" "+q.Get("error_description"))
		return
	}
	state, code := q.Get("state"), q.Get("code")
	uid, ok := jira.UIDFromState(state)
	if !ok || code == "" {
		WriteJSONError(w, http.StatusBadRequest, "missing code or state", "")
		return
	}

	saved, err := s.cfg.Store.ConsumeAuthState(r.Context(), jira.ToolName, uid)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "failed to read auth state", err.Error())
		return
	}
	if saved == "" || saved != state {
		WriteJSONError(w, http.StatusBadRequest, "invalid state", "")
		return
	}

	tok, err := s.cfg.OAuth.Exchange(r.Context(), code)
	if err != nil {
		WriteJSONError(w, http.StatusBadGateway, "token exchange failed", err.Error())
		return
	}
	if err := s.cfg.Connections.Connect(r.Context(), uid, tok); err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "failed to store credentials", err.Error())
		return
	}
	s.cfg.Logger.Info("jira connected", "uid", uid)

	if s.cfg.FrontendRedirectURL == "" {
		writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
		return
	}
	http.Redirect(w, r, s.cfg.FrontendRedirectURL, http.StatusFound)
}

// handleJiraSites handles GET /tools/jira/sites.
func (s *Server) handleJiraSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.cfg.Jira.AccessibleResources(r.Context(), uidFrom(r))
	if err != nil {
		writeError(w, "failed to list sites", err)
		return
	}
	if sites == nil {
		sites = []jira.AccessibleSite{}
	}
	writeJSON(w, http.StatusOK, sites)
}

// handleJiraProjects handles GET /tools/jira/projects?cloud_id=
func (s *Server) handleJiraProjects(w http.ResponseWriter, r *http.Request) {
	cloudID := r.URL.Query().Get("cloud_id")
	if cloudID == "" {
		WriteJSONError(w, http.StatusBadRequest, "cloud_id is required", "")
		return
	}
	projects, err := s.cfg.Jira.Projects(r.Context(), uidFrom(r), cloudID)
	if err != nil {
		writeError(w, "failed to list projects", err)
		return
	}
	if projects == nil {
		projects = []jira.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}
