package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/activity"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/requests"
)

func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) {
	if r.opts.MaxUploadBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.opts.MaxUploadBytes+multipartMemory)
	}
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds the %d MB limit", r.opts.MaxUploadBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer req.MultipartForm.RemoveAll()

	file, header, err := req.FormFile("warFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "warFile is required")
		return
	}
	defer file.Close()

	in := requests.CreateInput{
		TargetServer:    req.FormValue("targetServer"),
		ApplicationName: req.FormValue("applicationName"),
		Description:     req.FormValue("description"),
		Priority:        domain.Priority(req.FormValue("priority")),
		Environment:     domain.Environment(req.FormValue("environment")),
	}
	id, _ := identityFromContext(req.Context())
	created, err := r.requests.Create(req.Context(), id, in, requests.Upload{
		FileName: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Message: "Deployment request created successfully", Data: created})
}

func listParams(req *http.Request) requests.ListParams {
	q := req.URL.Query()
	return requests.ListParams{
		Status:   domain.RequestStatus(q.Get("status")),
		Priority: domain.Priority(q.Get("priority")),
		Page:     domain.PageRequest{Page: queryInt(req, "page"), Limit: queryInt(req, "limit")},
	}
}

func (r *Router) handleMyRequests(w http.ResponseWriter, req *http.Request) {
	id, _ := identityFromContext(req.Context())
	page, err := r.requests.ListMine(req.Context(), id, listParams(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Requests retrieved", Data: page.Requests, Pagination: &page.Pagination})
}

func (r *Router) handleAllRequests(w http.ResponseWriter, req *http.Request) {
	id, _ := identityFromContext(req.Context())
	page, err := r.requests.ListAll(req.Context(), id, listParams(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Requests retrieved", Data: page.Requests, Pagination: &page.Pagination})
}

func (r *Router) handleGetRequest(w http.ResponseWriter, req *http.Request) {
	reqID, ok := pathID(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	id, _ := identityFromContext(req.Context())
	found, err := r.requests.Get(req.Context(), id, reqID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: found})
}

func (r *Router) handleReview(w http.ResponseWriter, req *http.Request) {
	reqID, ok := pathID(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	var payload struct {
		Status   domain.RequestStatus `json:"status"`
		Comments string               `json:"comments"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, _ := identityFromContext(req.Context())
	updated, err := r.lifecycle.Review(req.Context(), id, reqID, payload.Status, payload.Comments)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Request marked as " + string(updated.Status), Data: updated})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	reqID, ok := pathID(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	id, _ := identityFromContext(req.Context())
	updated, err := r.lifecycle.StartDeployment(req.Context(), id, reqID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{Message: "Deployment started", Data: updated})
}

func (r *Router) handleDownload(w http.ResponseWriter, req *http.Request) {
	reqID, ok := pathID(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	id, _ := identityFromContext(req.Context())
	artifact, err := r.requests.OpenArtifact(req.Context(), id, reqID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	defer artifact.Body.Close()

	h := w.Header()
	h.Set("Content-Type", "application/java-archive")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Request.FileName}))
	if artifact.Request.FileSize > 0 {
		h.Set("Content-Length", strconv.FormatInt(artifact.Request.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, artifact.Body); err != nil {
		r.logger.Warn("artifact stream interrupted", "request_id", reqID, "error", err)
	}
}

func (r *Router) handleRequestStats(w http.ResponseWriter, req *http.Request) {
	id, _ := identityFromContext(req.Context())
	stats, err := r.requests.Stats(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: stats})
}

func (r *Router) handleStuck(w http.ResponseWriter, req *http.Request) {
	id, _ := identityFromContext(req.Context())
	stuck, err := r.watchdog.Stuck(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Message: fmt.Sprintf("%d deployments running longer than %s", len(stuck), r.watchdog.Threshold()),
		Data:    stuck,
	})
}

func (r *Router) handleActivityLogs(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	id, _ := identityFromContext(req.Context())
	page, err := r.activity.List(req.Context(), id, activity.ListParams{
		EventType:           domain.EventType(q.Get("eventType")),
		UserID:              queryInt64(req, "userId"),
		UserRole:            domain.Role(q.Get("userRole")),
		DeploymentRequestID: queryInt64(req, "deploymentRequestId"),
		Page:                domain.PageRequest{Page: queryInt(req, "page"), Limit: queryInt(req, "limit")},
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Activity logs retrieved", Data: page.Entries, Pagination: &page.Pagination})
}

func (r *Router) handleActivityStats(w http.ResponseWriter, req *http.Request) {
	id, _ := identityFromContext(req.Context())
	stats, err := r.activity.Stats(req.Context(), id, req.URL.Query().Get("period"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: stats})
}
