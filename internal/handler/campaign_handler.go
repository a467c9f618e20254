// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

// ReportSource is a durable store of finished and running campaigns.
type ReportSource interface {
	Report(ctx context.Context, campaignID string) (*model.Campaign, model.Report, error)
}

// CampaignHandler serves reports of past campaigns from durable storage.
// Sources are tried in order; the first one that knows the campaign wins.
type CampaignHandler struct {
	Sources []ReportSource
	Log     *logger.Logger
}

// NewCampaignHandler skips nil sources.
func NewCampaignHandler(log *logger.Logger, sources ...ReportSource) *CampaignHandler {
	h := &CampaignHandler{Log: log}
	for _, s := range sources {
		if s != nil {
			h.Sources = append(h.Sources, s)
		}
	}
	return h
}

// GetCampaignReport returns the persisted report of one campaign.
func (h *CampaignHandler) GetCampaignReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		RespondError(w, appErrors.NewValidation("id", "required"))
		return
	}
	if len(h.Sources) == 0 {
		RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no durable report storage configured"})
		return
	}

	failed := false
	for _, src := range h.Sources {
		campaign, report, err := src.Report(r.Context(), id)
		if err == nil {
			RespondJSON(w, http.StatusOK, map[string]any{
				"campaign": campaign,
				"counts":   report.Counts(),
				"report":   rows(report),
				"total":    len(report),
			})
			return
		}
		if !appErrors.IsNotFound(err) {
			h.Log.Error().Err(err).Str("campaign_id", id).Msg("failed to load durable report")
			failed = true
		}
	}

	if failed {
		RespondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load report"})
		return
	}
	RespondError(w, appErrors.NewCampaignNotFound(id))
}

// rows converts durable states. Attachment names are not persisted.
func rows(report model.Report) []model.ReportRow {
	out := make([]model.ReportRow, len(report))
	for i, st := range report {
		out[i] = model.NewReportRow(st, "", "")
	}
	return out
}
