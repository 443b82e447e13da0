package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"propleads/internal/api/middleware"
	"propleads/internal/app/service"
	"propleads/internal/common"
	"propleads/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type CampaignHandler struct {
	campaignService *service.CampaignService
}

func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{campaignService: campaignService}
}

func (h *CampaignHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)

	r.Post("/", h.createCampaign)
	r.Get("/{campaignID}", h.getCampaign)
	r.Post("/{campaignID}/recipients", h.attachRecipients)
	r.Get("/{campaignID}/recipients", h.listRecipients)
	r.Get("/{campaignID}/export", h.exportCSV)
}

type createCampaignRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (h *CampaignHandler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	operatorID, _ := middleware.GetOperatorIDFromContext(r.Context())

	campaign, err := h.campaignService.CreateCampaign(r.Context(), &model.Campaign{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   operatorID,
	})
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, campaign)
}

func (h *CampaignHandler) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDParam(w, r)
	if !ok {
		return
	}
	campaign, err := h.campaignService.GetCampaign(r.Context(), id)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, campaign)
}

type attachRecipientsRequest struct {
	Provider    string   `json:"provider"`
	PropertyIDs []string `json:"property_ids"`
}

func (h *CampaignHandler) attachRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDParam(w, r)
	if !ok {
		return
	}
	var req attachRecipientsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	result, err := h.campaignService.AttachProperties(r.Context(), id, req.Provider, req.PropertyIDs)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, result)
}

func (h *CampaignHandler) listRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDParam(w, r)
	if !ok {
		return
	}
	recipients, err := h.campaignService.ListRecipients(r.Context(), id)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, recipients)
}

// exportCSV streams the recipient list; errors after the first write can only
// be logged by the middleware, so the campaign is validated up front.
func (h *CampaignHandler) exportCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDParam(w, r)
	if !ok {
		return
	}
	campaign, err := h.campaignService.GetCampaign(r.Context(), id)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", h.campaignService.ExportFilename(campaign)))

	if err := h.campaignService.ExportCSV(r.Context(), id, w); err != nil {
		// Headers are already out; nothing more to do than abort the stream.
		return
	}
}

// RegisterDoNotMailRoutes mounts the suppression-list endpoint. Adding an
// address is admin-only since it silently drops recipients everywhere.
func (h *CampaignHandler) RegisterDoNotMailRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/", h.listDoNotMail)
	r.With(middleware.AdminOnly).Post("/", h.addDoNotMail)
}

func (h *CampaignHandler) listDoNotMail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.campaignService.ListDoNotMail(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}

type addDoNotMailRequest struct {
	Street string `json:"street"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip"`
	Reason string `json:"reason,omitempty"`
}

func (h *CampaignHandler) addDoNotMail(w http.ResponseWriter, r *http.Request) {
	var req addDoNotMailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	operatorID, _ := middleware.GetOperatorIDFromContext(r.Context())

	entry := &model.DoNotMailEntry{
		Street:    req.Street,
		City:      req.City,
		State:     req.State,
		Zip:       req.Zip,
		Reason:    req.Reason,
		CreatedBy: operatorID,
	}
	if err := h.campaignService.AddDoNotMail(r.Context(), entry); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, entry)
}

func campaignIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "campaignID"), 10, 64)
	if err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid campaign ID")
		return 0, false
	}
	return id, true
}
