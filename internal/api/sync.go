package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/surya-s-1/captain-tool-integrations/internal/dispatch"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// SyncAccepted is returned when a sync has been started.
type SyncAccepted struct {
	ProjectID string           `json:"project_id"`
	Version   string           `json:"version"`
	Kind      types.EntityKind `json:"kind"`
	Status    string           `json:"status"`
}

// CreatedIssue is returned by the single-issue route.
type CreatedIssue struct {
	ID       string `json:"id"`
	IssueKey string `json:"issue_key"`
	IssueURL string `json:"issue_url"`
}

// latestVersion writes an error and returns false unless the path names an
// existing project and its latest version.
func (s *Server) latestVersion(w http.ResponseWriter, r *http.Request) (projectID, version string, ok bool) {
	projectID, version = r.PathValue("project"), r.PathValue("version")
	project, err := s.cfg.Store.GetProject(r.Context(), projectID)
	if errors.Is(err, storage.ErrNotFound) {
		WriteJSONError(w, http.StatusNotFound, "project not found", projectID)
		return "", "", false
	}
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "failed to load project", err.Error())
		return "", "", false
	}
	if project.LatestVersion != version {
		WriteJSONError(w, http.StatusForbidden, "only the latest version can be changed",
			"latest version is "+project.LatestVersion)
		return "", "", false
	}
	return projectID, version, true
}

// handleSync handles POST /projects/{project}/versions/{version}/sync?kind=
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	kind, err := types.ParseEntityKind(r.URL.Query().Get("kind"))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid kind", err.Error())
		return
	}
	projectID, version, ok := s.latestVersion(w, r)
	if !ok {
		return
	}

	uid := uidFrom(r)
	scope := tracker.Scope{ProjectID: projectID, Version: version, Kind: kind}
	logger := s.cfg.Logger
	err = s.cfg.Runner.Go(r.Context(), dispatch.SyncKey(string(kind), projectID, version), func(ctx context.Context) error {
		result, err := s.cfg.Syncer.SyncVersion(ctx, uid, scope)
		if result != nil {
			logger.Info("sync finished", "scope", scope.String(), "status", result.Status,
				"created", result.Stats.Created, "failed", result.Stats.Failed,
				"deprecated", result.Stats.Deprecated, "errors", result.Stats.Errors)
		}
		return err
	})
	if err != nil {
		writeError(w, "could not start sync", err)
		return
	}
	writeJSON(w, http.StatusAccepted, SyncAccepted{ProjectID: projectID, Version: version, Kind: kind, Status: "started"})
}

// handleCreateOne handles POST /projects/{project}/versions/{version}/{kind}/{id}/issue
func (s *Server) handleCreateOne(w http.ResponseWriter, r *http.Request) {
	kind, err := types.ParseEntityKind(r.PathValue("kind"))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid kind", err.Error())
		return
	}
	projectID, version, ok := s.latestVersion(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	scope := tracker.Scope{ProjectID: projectID, Version: version, Kind: kind}
	issue, err := s.cfg.Syncer.CreateOne(r.Context(), uidFrom(r), scope, id)
	if err != nil {
		// Caller-side problems (no Jira connection, unconfigured project)
		// are 400; everything else is a server error.
		status := http.StatusInternalServerError
		if statusFor(err) == http.StatusBadRequest {
			status = http.StatusBadRequest
		}
		WriteJSONError(w, status, "failed to create issue", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CreatedIssue{ID: id, IssueKey: issue.Key, IssueURL: issue.URL})
}
