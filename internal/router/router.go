// Package router wires the HTTP API.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mezamarco14/resu-sistem/internal/controller"
	"github.com/mezamarco14/resu-sistem/internal/handler"
	"github.com/mezamarco14/resu-sistem/internal/logger"
)

type Deps struct {
	Campaigns *controller.CampaignController
	Uploads   *handler.UploadHandler
	Reports   *handler.CampaignHandler
	Log       *logger.Logger
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handler.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload/recipients", d.Uploads.UploadRecipients)
		r.Post("/upload/asset", d.Uploads.UploadAsset)
		r.Post("/upload/assets-folder", d.Uploads.UploadFolder)
		r.Get("/download-template", d.Uploads.DownloadTemplate)

		r.Post("/send", d.Campaigns.SendCampaign)
		r.Post("/preview", d.Campaigns.PersonalizedPreview)
		r.Get("/status", d.Campaigns.GetStatus)
		r.Get("/get-report", d.Campaigns.GetReport)
		r.Post("/abort", d.Campaigns.AbortCampaign)
		r.Post("/clear-campaign", d.Campaigns.ClearCampaign)

		r.Get("/campaigns/{id}/report", d.Reports.GetCampaignReport)
	})
	return r
}

// RequestLogger logs every request once it has been served.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.HTTPRequest(r.Method, r.URL.Path, status, time.Since(start), middleware.GetReqID(r.Context()))
		})
	}
}
