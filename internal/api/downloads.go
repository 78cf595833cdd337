package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/surya-s-1/captain-tool-integrations/internal/archive"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// DownloadRequest is the body of a download submission.
type DownloadRequest struct {
	TargetKind types.TargetKind `json:"target_kind"`
	Target     string           `json:"target"`
}

// DownloadAccepted is returned when a job has been queued.
type DownloadAccepted struct {
	JobID string `json:"job_id"`
}

// handleSubmitDownload handles POST /projects/{project}/versions/{version}/downloads
func (s *Server) handleSubmitDownload(w http.ResponseWriter, r *http.Request) {
	var body DownloadRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		WriteJSONError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return
	}

	projectID, version, ok := s.latestVersion(w, r)
	if !ok {
		return
	}

	req := archive.Request{
		ProjectID:  projectID,
		Version:    version,
		TargetKind: body.TargetKind,
		Target:     body.Target,
		UID:        uidFrom(r),
	}
	if err := req.Validate(); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid download request", err.Error())
		return
	}

	id, err := s.cfg.Archive.Submit(r.Context(), req)
	if err != nil {
		writeError(w, "could not start download", err)
		return
	}
	writeJSON(w, http.StatusAccepted, DownloadAccepted{JobID: id})
}

// handleDownload handles GET /downloads/{job}. Unfinished jobs report
// their status with 202, completed jobs stream the archive, failed jobs
// return 500 with the recorded error.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job")
	view, err := s.cfg.Archive.Poll(r.Context(), jobID)
	if errors.Is(err, storage.ErrNotFound) {
		WriteJSONError(w, http.StatusNotFound, "job not found", jobID)
		return
	}
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "failed to load job", err.Error())
		return
	}

	switch view.Status {
	case types.JobCompleted:
		s.streamArchive(w, r, view)
	case types.JobFailed:
		WriteJSONError(w, http.StatusInternalServerError, view.Error, "")
	default:
		writeJSON(w, http.StatusAccepted, view)
	}
}

func (s *Server) streamArchive(w http.ResponseWriter, r *http.Request, view *archive.JobView) {
	rc, err := s.cfg.Blobs.Open(r.Context(), view.ResultURL)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "failed to open archive", err.Error())
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", archive.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": view.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.cfg.Logger.Warn("archive stream interrupted", "job", view.ID, "error", err)
	}
}
