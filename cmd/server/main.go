// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezamarco14/resu-sistem/internal/app"
	"github.com/mezamarco14/resu-sistem/internal/config"
	"github.com/mezamarco14/resu-sistem/internal/controller"
	"github.com/mezamarco14/resu-sistem/internal/handler"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/repository"
	"github.com/mezamarco14/resu-sistem/internal/router"
	"github.com/mezamarco14/resu-sistem/internal/service"
	"github.com/mezamarco14/resu-sistem/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := storage.NewLocalStore(cfg.Storage.Dir)
	if err != nil {
		return err
	}

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	journal, err := app.NewJournal(cfg, backends, log)
	if err != nil {
		return err
	}
	defer journal.Close()

	svc := service.NewCampaignService(app.NewTransport(cfg, log), repository.NewRecipientStore(), journal.AsQueue(), app.ServiceOptions(cfg), log)

	draft := handler.NewDraft()
	h := router.New(router.Deps{
		Campaigns: &controller.CampaignController{CampaignService: svc, Draft: draft, Store: files, Log: log.WithComponent("controller")},
		Uploads:   &handler.UploadHandler{Draft: draft, Store: files, Campaign: svc, Log: log.WithComponent("upload")},
		Reports:   handler.NewCampaignHandler(log.WithComponent("reports"), backends.ReportSources()...),
		Log:       log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("provider", cfg.Mail.Provider).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := svc.Abort("server shutting down"); err == nil {
		log.Warn().Msg("running campaign aborted, waiting for in-flight sends")
	}
	if err := svc.Wait(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("campaign did not drain in time")
	}
	return nil
}
