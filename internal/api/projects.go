package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/surya-s-1/captain-tool-integrations/internal/jira"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// ConnectProjectRequest links a Jira project on a site to a new project.
type ConnectProjectRequest struct {
	Tool        string `json:"tool"`
	SiteID      string `json:"siteId"`
	SiteDomain  string `json:"siteDomain"`
	ProjectKey  string `json:"projectKey"`
	ProjectName string `json:"projectName"`
}

// ProjectConnected is returned once the project and its first version exist.
type ProjectConnected struct {
	ProjectID     string `json:"project_id"`
	LatestVersion string `json:"latest_version"`
	Message       string `json:"message"`
}

// Validate reports the first missing or unsupported field.
func (r *ConnectProjectRequest) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"tool", r.Tool},
		{"siteId", r.SiteID},
		{"siteDomain", r.SiteDomain},
		{"projectKey", r.ProjectKey},
		{"projectName", r.ProjectName},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if r.Tool != jira.ToolName {
		return fmt.Errorf("unsupported tool %q", r.Tool)
	}
	return nil
}

// handleConnectProject handles POST /projects/connect
func (s *Server) handleConnectProject(w http.ResponseWriter, r *http.Request) {
	var body ConnectProjectRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		WriteJSONError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return
	}
	if err := body.Validate(); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid project", err.Error())
		return
	}

	project := &types.Project{
		ID:              s.newID(),
		Tool:            body.Tool,
		ToolSiteID:      body.SiteID,
		ToolSiteDomain:  jira.NormalizeSiteURL(body.SiteDomain),
		ToolProjectKey:  body.ProjectKey,
		ToolProjectName: body.ProjectName,
	}
	version := &types.Version{Version: s.newID(), Status: types.VersionStatusCreated}
	if err := s.cfg.Store.CreateProject(r.Context(), project, version); err != nil {
		writeError(w, "failed to connect project", err)
		return
	}

	s.cfg.Logger.Info("project connected", "project", project.ID, "tool", project.Tool,
		"key", project.ToolProjectKey, "version", version.Version, "uid", uidFrom(r))
	writeJSON(w, http.StatusCreated, ProjectConnected{
		ProjectID:     project.ID,
		LatestVersion: version.Version,
		Message:       fmt.Sprintf("%s's %s connected successfully.", project.Tool, project.ToolProjectName),
	})
}
