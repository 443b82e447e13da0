package handler

import (
	"encoding/json"
	"net/http"

	"propleads/internal/api/middleware"
	"propleads/internal/app/service"
	"propleads/internal/common"

	"github.com/go-chi/chi/v5"
)

type DuplicateCheckHandler struct {
	checkService *service.DuplicateCheckService
}

func NewDuplicateCheckHandler(checkService *service.DuplicateCheckService) *DuplicateCheckHandler {
	return &DuplicateCheckHandler{checkService: checkService}
}

func (h *DuplicateCheckHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)

	r.Post("/", h.startCheck)
	r.Get("/{checkID}", h.getCheck)
	r.Delete("/{checkID}", h.dismissCheck)
}

type startCheckRequest struct {
	Provider    string   `json:"provider"`
	PropertyIDs []string `json:"property_ids"`
}

// startCheck returns 202 with the job id right away; the lookup runs in the
// background and progress streams over the redis channel.
func (h *DuplicateCheckHandler) startCheck(w http.ResponseWriter, r *http.Request) {
	var req startCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	jobID, err := h.checkService.StartCheck(r.Context(), req.Provider, req.PropertyIDs)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *DuplicateCheckHandler) getCheck(w http.ResponseWriter, r *http.Request) {
	job, err := h.checkService.GetCheck(chi.URLParam(r, "checkID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}

func (h *DuplicateCheckHandler) dismissCheck(w http.ResponseWriter, r *http.Request) {
	h.checkService.DismissCheck(chi.URLParam(r, "checkID"))
	w.WriteHeader(http.StatusNoContent)
}
