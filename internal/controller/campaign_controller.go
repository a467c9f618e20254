// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/handler"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/model"
	"github.com/mezamarco14/resu-sistem/internal/service"
	"github.com/mezamarco14/resu-sistem/internal/storage"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Draft           *handler.Draft
	Store           *storage.LocalStore
	Log             *logger.Logger
}

type sendRequest struct {
	SenderEmail string `json:"sender_email"`
	Password    string `json:"password"`
	Subject     string `json:"subject"`
	BodyHTML    string `json:"body_html"`
	FooterHTML  string `json:"footer_html"`
}

func (b sendRequest) config() model.CampaignConfig {
	return model.CampaignConfig{
		SenderEmail:      b.SenderEmail,
		SenderCredential: b.Password,
		SubjectTemplate:  b.Subject,
		BodyTemplate:     b.BodyHTML,
		FooterTemplate:   b.FooterHTML,
	}
}

// withUploads attaches the stored logo, flyer and folder sets.
func (c *CampaignController) withUploads(cfg model.CampaignConfig) (model.CampaignConfig, error) {
	var err error
	if cfg.Logo, err = c.Store.Asset(storage.AssetLogo); err != nil {
		return cfg, fmt.Errorf("load logo: %w", err)
	}
	if cfg.Flyer, err = c.Store.Asset(storage.AssetFlyer); err != nil {
		return cfg, fmt.Errorf("load flyer: %w", err)
	}
	if cfg.Folder1, err = c.Store.Folder(storage.Folder1); err != nil {
		return cfg, fmt.Errorf("load folder1: %w", err)
	}
	if cfg.Folder2, err = c.Store.Folder(storage.Folder2); err != nil {
		return cfg, fmt.Errorf("load folder2: %w", err)
	}
	return cfg, nil
}

// SendCampaign starts a campaign for the uploaded recipients. Authentication
// happens before the response so a rejected credential is reported as 401.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.RespondError(w, appErrors.NewValidation("", "invalid body"))
		return
	}

	recipients := c.Draft.Recipients()
	if len(recipients) == 0 {
		handler.RespondError(w, appErrors.NewValidation("recipients", "upload a recipient list first"))
		return
	}

	var id string
	err := c.Draft.Exclusive(func() error {
		cfg, err := c.withUploads(body.config())
		if err != nil {
			c.Log.Error().Err(err).Msg("failed to read uploads")
			return err
		}
		id, err = c.CampaignService.Start(r.Context(), cfg, recipients)
		return err
	})
	if err != nil {
		if !appErrors.IsValidation(err) && !appErrors.IsConflict(err) {
			c.Log.Warn().Err(err).Str("campaign_id", id).Msg("campaign rejected")
		}
		handler.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusAccepted, map[string]any{
		"message":         "Sending started in background",
		"campaign_id":     id,
		"recipient_count": len(recipients),
	})
}

func (c *CampaignController) GetStatus(w http.ResponseWriter, r *http.Request) {
	handler.RespondJSON(w, http.StatusOK, c.CampaignService.Status())
}

// GetReport returns the live report. Before the first campaign it answers
// with available=false and an empty list.
func (c *CampaignController) GetReport(w http.ResponseWriter, r *http.Request) {
	rows, ok := c.CampaignService.ReportRows()
	if !ok {
		handler.RespondJSON(w, http.StatusOK, map[string]any{
			"available": false,
			"report":    []model.ReportRow{},
			"total":     0,
			"message":   appErrors.ErrNoReport.Error(),
		})
		return
	}
	handler.RespondJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"report":    rows,
		"total":     len(rows),
	})
}

func (c *CampaignController) AbortCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	// the body is optional
	json.NewDecoder(r.Body).Decode(&body)

	if err := c.CampaignService.Abort(body.Reason); err != nil {
		handler.RespondError(w, err)
		return
	}
	c.Log.Info().Str("reason", body.Reason).Msg("abort requested")
	handler.RespondJSON(w, http.StatusOK, c.CampaignService.Status())
}

// ClearCampaign drops the campaign, the uploaded recipients and stored files.
// A running campaign is only cleared with ?force=true.
func (c *CampaignController) ClearCampaign(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	err := c.Draft.Exclusive(func() error {
		if err := c.CampaignService.Clear(r.Context(), force); err != nil {
			return err
		}
		c.Draft.Clear()
		if err := c.Store.Clear(); err != nil {
			c.Log.Error().Err(err).Msg("failed to clear uploads")
			return err
		}
		return nil
	})
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, map[string]string{"message": "Campaign data cleared successfully"})
}

// PersonalizedPreview renders the message for one uploaded recipient,
// selected by "index" (default 0).
func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		sendRequest
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.RespondError(w, appErrors.NewValidation("", "invalid body"))
		return
	}

	recipients := c.Draft.Recipients()
	if body.Index < 0 || body.Index >= len(recipients) {
		handler.RespondError(w, appErrors.NewValidation("index", fmt.Sprintf("no uploaded recipient at %d", body.Index)))
		return
	}
	rec := recipients[body.Index]

	cfg, err := c.withUploads(body.config())
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	subject, html, err := c.CampaignService.Preview(cfg, rec)
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	a1, a2 := cfg.FolderNames(rec.Ordinal)
	handler.RespondJSON(w, http.StatusOK, map[string]any{
		"email":       rec.Email,
		"subject":     subject,
		"html":        html,
		"attachment1": a1,
		"attachment2": a2,
	})
}
