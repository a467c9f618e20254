// internal/handler/upload_handler.go
package handler

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/model"
	"github.com/mezamarco14/resu-sistem/internal/storage"
)

const (
	maxUploadBytes = 64 << 20
	previewRows    = 5
)

// PhaseSource reports the phase of the current campaign.
type PhaseSource interface {
	Status() model.CampaignStatus
}

// UploadHandler prepares the next campaign: recipient list and files.
// Stored files are read while a campaign runs, so they cannot be replaced
// until it has finished.
type UploadHandler struct {
	Draft    *Draft
	Store    *storage.LocalStore
	Campaign PhaseSource
	Log      *logger.Logger
}

// storeFiles runs save unless a campaign is running.
func (h *UploadHandler) storeFiles(op string, save func() error) error {
	return h.Draft.Exclusive(func() error {
		if h.Campaign != nil && h.Campaign.Status().Phase == model.PhaseRunning {
			return appErrors.NewConflict(op, "a campaign is running, wait for it to finish or abort it")
		}
		return save()
	})
}

// UploadRecipients accepts {"rows": [...]} as JSON or a CSV sheet in the
// multipart field "file".
func (h *UploadHandler) UploadRecipients(w http.ResponseWriter, r *http.Request) {
	rows, err := readRows(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	res := NormalizeRows(rows)
	h.Draft.SetRecipients(res.Recipients)

	preview := res.Recipients
	if len(preview) > previewRows {
		preview = preview[:previewRows]
	}

	h.Log.Info().
		Int("count", len(res.Recipients)).
		Int("skipped", res.Skipped).
		Int("duplicates", res.Duplicates).
		Msg("recipients uploaded")

	RespondJSON(w, http.StatusOK, map[string]any{
		"count":      len(res.Recipients),
		"skipped":    res.Skipped,
		"duplicates": res.Duplicates,
		"preview":    preview,
	})
}

func readRows(r *http.Request) ([]model.Fields, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, appErrors.NewValidation("file", "invalid multipart body")
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, appErrors.NewValidation("file", "required")
		}
		defer f.Close()

		rows, err := ParseCSV(f)
		if err != nil {
			return nil, appErrors.NewValidation("file", err.Error())
		}
		return rows, nil
	}

	var body struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, appErrors.NewValidation("rows", "invalid request body: "+err.Error())
	}
	return RowsFromMaps(body.Rows), nil
}

// UploadAsset stores the shared logo or flyer.
func (h *UploadHandler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		RespondError(w, appErrors.NewValidation("file", "invalid multipart body"))
		return
	}
	kind, err := storage.ParseAssetKind(r.FormValue("type"))
	if err != nil {
		RespondError(w, err)
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		RespondError(w, appErrors.NewValidation("file", "required"))
		return
	}
	defer f.Close()

	var path string
	err = h.storeFiles("upload asset", func() (err error) {
		path, err = h.Store.SaveAsset(kind, header.Filename, f)
		return err
	})
	if err != nil {
		if !appErrors.IsConflict(err) {
			h.Log.Error().Err(err).Str("type", string(kind)).Msg("failed to store asset")
		}
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "uploaded", "path": path})
}

// UploadFolder replaces one per-recipient attachment set. Files are matched
// to recipients by the first number in their names.
func (h *UploadHandler) UploadFolder(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		RespondError(w, appErrors.NewValidation("files", "invalid multipart body"))
		return
	}
	kind, err := storage.ParseFolderKind(r.FormValue("folder_type"))
	if err != nil {
		RespondError(w, err)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		RespondError(w, appErrors.NewValidation("files", "required"))
		return
	}

	files := make([]storage.NamedReader, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll(files)
			RespondError(w, err)
			return
		}
		files = append(files, storage.NamedReader{Name: fh.Filename, Reader: f})
	}
	defer closeAll(files)

	var count int
	err = h.storeFiles("upload folder", func() (err error) {
		count, err = h.Store.SaveFolder(kind, files)
		return err
	})
	if err != nil {
		if !appErrors.IsConflict(err) {
			h.Log.Error().Err(err).Str("folder", string(kind)).Msg("failed to store folder")
		}
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"status": "uploaded", "count": count})
}

func closeAll(files []storage.NamedReader) {
	for _, f := range files {
		if c, ok := f.Reader.(multipart.File); ok {
			c.Close()
		}
	}
}

// DownloadTemplate serves an empty recipient sheet.
func (h *UploadHandler) DownloadTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="plantilla_envios.csv"`)
	if err := WriteTemplate(w); err != nil {
		h.Log.Error().Err(err).Msg("failed to write template")
	}
}
