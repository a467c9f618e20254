package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezamarco14/resu-sistem/internal/controller"
	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/handler"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/mail/mailtest"
	"github.com/mezamarco14/resu-sistem/internal/model"
	"github.com/mezamarco14/resu-sistem/internal/repository"
	"github.com/mezamarco14/resu-sistem/internal/router"
	"github.com/mezamarco14/resu-sistem/internal/service"
	"github.com/mezamarco14/resu-sistem/internal/storage"
)

type testApp struct {
	server    *httptest.Server
	transport *mailtest.Transport
	service   *service.CampaignService
}

func newTestApp(t *testing.T, tr *mailtest.Transport) *testApp {
	t.Helper()

	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	log := logger.Nop()
	svc := service.NewCampaignService(tr, repository.NewRecipientStore(), nil, service.Options{
		Workers:        2,
		Policy:         service.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		LoadAttachment: storage.Load,
	}, log)
	draft := handler.NewDraft()

	h := router.New(router.Deps{
		Campaigns: &controller.CampaignController{CampaignService: svc, Draft: draft, Store: files, Log: log},
		Uploads:   &handler.UploadHandler{Draft: draft, Store: files, Campaign: svc, Log: log},
		Reports:   handler.NewCampaignHandler(log),
		Log:       log,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testApp{server: srv, transport: tr, service: svc}
}

func (a *testApp) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return a.send(t, req)
}

func (a *testApp) upload(t *testing.T, path string, fields map[string]string, field string, files map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		fw.Write([]byte(content))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return a.send(t, req)
}

func (a *testApp) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (a *testApp) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.service.Wait(ctx))
}

var sendBody = map[string]string{
	"sender_email": "me@x.com",
	"password":     "app-password",
	"subject":      "Constancia para {{Nombre}}",
	"body_html":    "<p>Hola {{Nombre}}, {{Cargo}}</p>",
	"footer_html":  "<small>Oficina</small>",
}

var uploadRows = map[string]any{
	"rows": []map[string]any{
		{"Correo": "ana@x.com", "Nombre": "Ana", "Cargo": "Decana"},
		{"Nombre": "Sin correo"},
		{"Correo": "bob@x.com", "Nombre": "Bob", "Cargo": "Docente"},
	},
}

func TestCampaignFlow(t *testing.T) {
	app := newTestApp(t, mailtest.NewTransport())

	resp, body := app.do(t, http.MethodGet, "/api/get-report", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["available"])
	assert.Empty(t, body["report"])

	resp, _ = app.do(t, http.MethodPost, "/api/send", sendBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no recipients uploaded yet")

	resp, body = app.do(t, http.MethodPost, "/api/upload/recipients", uploadRows)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["skipped"])

	resp, body = app.upload(t, "/api/upload/assets-folder", map[string]string{"folder_type": "folder1"}, "files",
		map[string]string{"cert_2.pdf": "two", "cert_1.pdf": "one", "cert_3.pdf": "three"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["count"])

	resp, _ = app.upload(t, "/api/upload/asset", map[string]string{"type": "logo"}, "file",
		map[string]string{"escudo.png": "\x89PNG\r\n\x1a\nfake"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	missing := map[string]string{"sender_email": "me@x.com", "subject": "s", "body_html": "b"}
	resp, _ = app.do(t, http.MethodPost, "/api/send", missing)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = app.do(t, http.MethodPost, "/api/send", sendBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, body["campaign_id"])
	assert.EqualValues(t, 2, body["recipient_count"])
	app.wait(t)

	resp, body = app.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(model.PhaseCompleted), body["phase"])

	resp, body = app.do(t, http.MethodGet, "/api/get-report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["available"])
	assert.EqualValues(t, 2, body["total"])
	report := body["report"].([]any)
	first := report[0].(map[string]any)
	assert.Equal(t, "ana@x.com", first["email"])
	assert.Equal(t, "Sent", first["status"])
	assert.Equal(t, "cert_1.pdf", first["attachment1"])
	assert.EqualValues(t, 1, first["attemptCount"])
	second := report[1].(map[string]any)
	assert.Equal(t, "cert_3.pdf", second["attachment1"], "files pair with sheet rows, skipped rows included")

	sent := app.transport.Sent()
	require.Len(t, sent, 2)
	for _, msg := range sent {
		require.NotEmpty(t, msg.Attachments)
		logo := msg.Attachments[0]
		assert.Equal(t, "logo", logo.ContentID)
		assert.NotEmpty(t, logo.Content, "shared assets are loaded before dispatch")
	}

	resp, _ = app.do(t, http.MethodPost, "/api/send", sendBody)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a finished campaign must be cleared first")

	resp, _ = app.do(t, http.MethodPost, "/api/clear-campaign", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = app.do(t, http.MethodGet, "/api/get-report", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["available"])

	resp, _ = app.do(t, http.MethodPost, "/api/send", sendBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "clearing drops the uploaded recipients")
}

func TestSendRejectedCredential(t *testing.T) {
	tr := mailtest.NewTransport()
	tr.ConnectErr = appErrors.NewAuthenticationError("me@x.com", errors.New("535 5.7.8 bad credentials"))
	app := newTestApp(t, tr)

	resp, _ := app.do(t, http.MethodPost, "/api/upload/recipients", uploadRows)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := app.do(t, http.MethodPost, "/api/send", sendBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body["error"], "535")

	_, body = app.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, string(model.PhaseAborted), body["phase"])
	assert.Zero(t, tr.TotalAttempts())
}

func TestClearWhileRunning(t *testing.T) {
	tr := mailtest.NewTransport()
	tr.Gate = make(chan struct{})
	app := newTestApp(t, tr)

	resp, _ := app.do(t, http.MethodPost, "/api/upload/recipients", uploadRows)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = app.do(t, http.MethodPost, "/api/send", sendBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = app.do(t, http.MethodPost, "/api/clear-campaign", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = app.do(t, http.MethodPost, "/api/abort", map[string]string{"reason": "stop"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	close(tr.Gate)
	resp, _ = app.do(t, http.MethodPost, "/api/clear-campaign?force=true", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := app.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, string(model.PhaseIdle), body["phase"])

	resp, _ = app.do(t, http.MethodPost, "/api/abort", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUploadsRejectedWhileRunning(t *testing.T) {
	tr := mailtest.NewTransport()
	tr.Gate = make(chan struct{})
	app := newTestApp(t, tr)

	rows := map[string]any{"rows": []map[string]any{
		{"Correo": "ana@x.com", "Nombre": "Ana"},
		{"Correo": "bob@x.com", "Nombre": "Bob"},
		{"Correo": "cy@x.com", "Nombre": "Cy"},
	}}
	resp, _ := app.do(t, http.MethodPost, "/api/upload/recipients", rows)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	certs := map[string]string{"cert_1.pdf": "one", "cert_2.pdf": "two", "cert_3.pdf": "three"}
	resp, _ = app.upload(t, "/api/upload/assets-folder", map[string]string{"folder_type": "folder1"}, "files", certs)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// both workers hold a message at the gate, cy's files are read afterwards
	resp, _ = app.do(t, http.MethodPost, "/api/send", sendBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = app.upload(t, "/api/upload/assets-folder", map[string]string{"folder_type": "folder1"}, "files",
		map[string]string{"other.pdf": "replaced"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = app.upload(t, "/api/upload/asset", map[string]string{"type": "logo"}, "file",
		map[string]string{"escudo.png": "\x89PNG\r\n\x1a\nfake"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(tr.Gate)
	app.wait(t)

	_, body := app.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, string(model.PhaseCompleted), body["phase"])

	want := map[string]string{"ana@x.com": "one", "bob@x.com": "two", "cy@x.com": "three"}
	sent := app.transport.Sent()
	require.Len(t, sent, 3)
	for _, msg := range sent {
		require.Len(t, msg.Attachments, 1, msg.To)
		assert.Equal(t, want[msg.To], string(msg.Attachments[0].Content), msg.To)
	}

	resp, _ = app.upload(t, "/api/upload/assets-folder", map[string]string{"folder_type": "folder1"}, "files",
		map[string]string{"other.pdf": "replaced"})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "files can change once the campaign has finished")
}

func TestPersonalizedPreview(t *testing.T) {
	app := newTestApp(t, mailtest.NewTransport())

	resp, _ := app.do(t, http.MethodPost, "/api/upload/recipients", uploadRows)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req := map[string]any{}
	for k, v := range sendBody {
		req[k] = v
	}
	req["index"] = 1

	resp, body := app.do(t, http.MethodPost, "/api/preview", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bob@x.com", body["email"])
	assert.Equal(t, "Constancia para Bob", body["subject"])
	assert.Contains(t, body["html"], "Hola Bob, Docente")
	assert.Zero(t, app.transport.TotalAttempts())

	req["index"] = 7
	resp, _ = app.do(t, http.MethodPost, "/api/preview", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndTemplate(t *testing.T) {
	app := newTestApp(t, mailtest.NewTransport())

	resp, body := app.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	r, err := http.Get(app.server.URL + "/api/download-template")
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.Contains(t, r.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, r.Header.Get("Content-Disposition"), "plantilla_envios.csv")
}
