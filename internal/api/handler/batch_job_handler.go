package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"propleads/internal/api/middleware"
	"propleads/internal/app/service"
	"propleads/internal/app/worker"
	"propleads/internal/common"
	"propleads/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type BatchJobHandler struct {
	jobService *service.BatchJobService
	queue      *worker.JobQueueWorker
}

func NewBatchJobHandler(jobService *service.BatchJobService, queue *worker.JobQueueWorker) *BatchJobHandler {
	return &BatchJobHandler{jobService: jobService, queue: queue}
}

func (h *BatchJobHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)

	r.Post("/", h.createJob)
	r.Get("/", h.listJobs)
	r.Get("/stats", h.queueStats) // must register before /{jobID}
	r.Get("/{jobID}", h.getJob)
	r.Get("/{jobID}/children", h.listChildren)
	r.Get("/{jobID}/logs", h.listLogs)
	r.Post("/{jobID}/retry", h.retryJob)
}

type createJobRequest struct {
	Provider    string   `json:"provider"`
	PropertyIDs []string `json:"property_ids"`
	BatchSize   int      `json:"batch_size,omitempty"`
	Priority    int      `json:"priority,omitempty"`
}

type createJobResponse struct {
	Parent   *model.BatchJob   `json:"parent"`
	Children []*model.BatchJob `json:"children"`
}

// createJob builds one parent job plus its children from an id list. The
// children become claimable immediately; the caller polls the parent for
// aggregate progress.
func (h *BatchJobHandler) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if len(req.PropertyIDs) == 0 {
		common.RespondWithError(w, http.StatusBadRequest, "property_ids must not be empty")
		return
	}

	operatorID, _ := middleware.GetOperatorIDFromContext(r.Context())

	criteria := &model.JobCriteria{Provider: req.Provider, PropertyIDs: req.PropertyIDs}
	parent, err := h.jobService.CreateParentJob(r.Context(), &model.BatchJob{
		Criteria:  criteria,
		Priority:  req.Priority,
		CreatedBy: operatorID,
	})
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	children, err := h.jobService.CreateChildJobsFromList(r.Context(), parent.ID, criteria, req.BatchSize, operatorID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	common.RespondWithJSON(w, http.StatusCreated, createJobResponse{Parent: parent, Children: children})
}

func (h *BatchJobHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	includeChildren := r.URL.Query().Get("include_children") == "true"

	jobs, err := h.jobService.GetJobs(r.Context(), status, limit, offset, includeChildren)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, jobs)
}

type jobDetailResponse struct {
	Job      *model.BatchJob    `json:"job"`
	Progress *model.JobProgress `json:"progress"`
}

func (h *BatchJobHandler) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	job, err := h.jobService.GetJobByID(r.Context(), id)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, jobDetailResponse{
		Job:      job,
		Progress: h.jobService.CalculateJobProgress(job),
	})
}

func (h *BatchJobHandler) listChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	children, err := h.jobService.GetChildJobs(r.Context(), id)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, children)
}

func (h *BatchJobHandler) listLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	logs, err := h.jobService.GetJobLogs(r.Context(), id, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, logs)
}

type retryJobRequest struct {
	DelaySeconds int `json:"delay_seconds,omitempty"`
}

// retryJob re-queues a failed job. Retries are operator-initiated only.
func (h *BatchJobHandler) retryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	var req retryJobRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
			return
		}
	}

	job, err := h.jobService.GetJobByID(r.Context(), id)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	if job.Status != model.JobStatusFailed {
		common.RespondWithError(w, http.StatusConflict, "only FAILED jobs can be retried")
		return
	}

	if err := h.queue.ScheduleRetry(r.Context(), id, time.Duration(req.DelaySeconds)*time.Second); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": model.JobStatusPending})
}

func (h *BatchJobHandler) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetQueueStats(r.Context())
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, stats)
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid job ID")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
