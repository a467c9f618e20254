// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/mail"
	"github.com/mezamarco14/resu-sistem/internal/model"
	"github.com/mezamarco14/resu-sistem/internal/queue"
	"github.com/mezamarco14/resu-sistem/internal/repository"
)

// Options tunes a CampaignService.
type Options struct {
	Workers        int
	Policy         RetryPolicy
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	// LoadAttachment reads attachment contents. Defaults to leaving them as is.
	LoadAttachment func(model.Attachment) (model.Attachment, error)
}

// CampaignService runs one campaign at a time through the phases
// idle -> running -> completed|aborted.
type CampaignService struct {
	transport mail.Transport
	store     *repository.RecipientStore
	journal   queue.Queue
	opts      Options
	log       *logger.Logger

	mu          sync.Mutex
	phase       model.Phase
	campaignID  string
	config      model.CampaignConfig
	abortReason string
	startedAt   *time.Time
	finishedAt  *time.Time
	cancel      context.CancelCauseFunc
	done        chan struct{}
}

// NewCampaignService wires the controller. journal may be nil.
func NewCampaignService(transport mail.Transport, store *repository.RecipientStore, journal queue.Queue, opts Options, log *logger.Logger) *CampaignService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CampaignService{
		transport: transport,
		store:     store,
		journal:   journal,
		opts:      opts,
		log:       log.WithComponent("campaign"),
		phase:     model.PhaseIdle,
	}
}

// Start validates the campaign, authenticates with the provider and launches
// the dispatch in the background. A rejected credential aborts the campaign
// before any send and is returned to the caller.
func (s *CampaignService) Start(ctx context.Context, cfg model.CampaignConfig, recipients []model.Recipient) (string, error) {
	if err := validateConfig(cfg); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.phase != model.PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		return "", appErrors.NewConflict("start campaign", fmt.Sprintf("campaign is %s, clear it first", phase))
	}

	cfg, err := s.loadShared(cfg)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	if err := s.store.Initialize(recipients); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if err := s.store.BeginDispatch(); err != nil {
		s.mu.Unlock()
		return "", err
	}

	now := time.Now()
	id := uuid.NewString()
	runCtx, cancel := context.WithCancelCause(context.Background())
	done := make(chan struct{})

	s.phase = model.PhaseRunning
	s.campaignID = id
	s.config = cfg
	s.abortReason = ""
	s.startedAt = &now
	s.finishedAt = nil
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	log := s.log.WithCampaign(id)
	log.Info().Int("recipients", len(recipients)).Str("sender", cfg.SenderEmail).Msg("campaign starting")

	s.publish(queue.OutcomeEvent{
		Type:       queue.EventCampaignStarted,
		CampaignID: id,
		Campaign:   s.campaignRecord(id, model.PhaseRunning, "", len(recipients), now, nil),
	})
	// every recipient is journaled as pending so stored reports list the ones
	// never attempted
	for _, st := range s.store.Snapshot() {
		d := model.NewDelivery(id, st)
		s.publish(queue.OutcomeEvent{Type: queue.EventDelivery, CampaignID: id, Delivery: &d})
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	client, err := s.transport.Connect(connectCtx, cfg.SenderEmail, cfg.SenderCredential)
	cancelConnect()
	if err != nil {
		cancel(err)
		s.store.EndDispatch()
		s.finish(model.PhaseAborted, err.Error())
		close(done)
		log.Error().Err(err).Msg("campaign aborted before dispatch")
		return id, err
	}

	go s.run(runCtx, client, cfg, done, log)
	return id, nil
}

func (s *CampaignService) run(ctx context.Context, client mail.Client, cfg model.CampaignConfig, done chan struct{}, log *logger.Logger) {
	defer close(done)
	defer client.Close()

	d := &Dispatcher{
		Store:          s.store,
		Client:         client,
		Config:         cfg,
		Policy:         s.opts.Policy,
		SendTimeout:    s.opts.SendTimeout,
		LoadAttachment: s.opts.LoadAttachment,
		OnOutcome:      s.recordOutcome,
		Log:            log.WithComponent("dispatcher"),
	}

	report, err := d.Run(ctx, s.opts.Workers)
	s.store.EndDispatch()

	counts := report.Counts()
	switch {
	case err != nil:
		s.finish(model.PhaseAborted, err.Error())
	case counts.Pending+counts.Retrying > 0:
		s.finish(model.PhaseAborted, "dispatch ended with unresolved recipients")
	default:
		s.finish(model.PhaseCompleted, "")
	}

	log.Info().
		Int("sent", counts.Sent).
		Int("failed", counts.Failed).
		Int("skipped", counts.Skipped).
		Int("pending", counts.Pending).
		Msg("campaign finished")
}

func (s *CampaignService) recordOutcome(st model.RecipientState) {
	s.mu.Lock()
	id := s.campaignID
	s.mu.Unlock()

	d := model.NewDelivery(id, st)
	s.publish(queue.OutcomeEvent{Type: queue.EventDelivery, CampaignID: id, Delivery: &d})
}

func (s *CampaignService) finish(phase model.Phase, reason string) {
	now := time.Now()

	s.mu.Lock()
	s.phase = phase
	s.abortReason = reason
	s.finishedAt = &now
	id := s.campaignID
	started := now
	if s.startedAt != nil {
		started = *s.startedAt
	}
	s.mu.Unlock()

	s.publish(queue.OutcomeEvent{
		Type:       queue.EventCampaignFinished,
		CampaignID: id,
		Campaign:   s.campaignRecord(id, phase, reason, s.store.Len(), started, &now),
	})
}

func (s *CampaignService) campaignRecord(id string, phase model.Phase, reason string, total int, started time.Time, finished *time.Time) *model.Campaign {
	s.mu.Lock()
	cfg := s.config
	s.mu.Unlock()

	return &model.Campaign{
		ID:          id,
		SenderEmail: cfg.SenderEmail,
		Subject:     cfg.SubjectTemplate,
		Phase:       phase,
		Total:       total,
		AbortReason: reason,
		StartedAt:   started,
		FinishedAt:  finished,
	}
}

func (s *CampaignService) publish(ev queue.OutcomeEvent) {
	if s.journal == nil {
		return
	}
	ev.OccurredAt = time.Now()
	if err := s.journal.Publish(queue.TopicOutcomes, ev); err != nil {
		s.log.Debug().Err(err).Str("event", string(ev.Type)).Msg("outcome not journaled")
	}
}

// Abort stops new claims. In-flight sends finish and the campaign ends Aborted.
func (s *CampaignService) Abort(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != model.PhaseRunning {
		return appErrors.NewConflict("abort campaign", fmt.Sprintf("campaign is %s", s.phase))
	}
	if reason == "" {
		reason = "aborted by operator"
	}
	s.cancel(errors.New(reason))
	return nil
}

// Wait blocks until the current run has finished.
func (s *CampaignService) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear discards the campaign and returns to idle. While running it fails
// with a ConflictError unless force is set, in which case the run is aborted
// and drained first.
func (s *CampaignService) Clear(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.phase == model.PhaseRunning {
		if !force {
			s.mu.Unlock()
			return appErrors.NewConflict("clear campaign", "a campaign is running; abort it or force the clear")
		}
		s.cancel(errors.New("cleared while running"))
	}
	s.mu.Unlock()

	if err := s.Wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(false); err != nil {
		return err
	}
	s.phase = model.PhaseIdle
	s.campaignID = ""
	s.config = model.CampaignConfig{}
	s.abortReason = ""
	s.startedAt = nil
	s.finishedAt = nil
	s.cancel = nil
	s.done = nil
	return nil
}

// Status reports the phase and recipient counts.
func (s *CampaignService) Status() model.CampaignStatus {
	s.mu.Lock()
	st := model.CampaignStatus{
		CampaignID:  s.campaignID,
		Phase:       s.phase,
		AbortReason: s.abortReason,
		StartedAt:   s.startedAt,
		FinishedAt:  s.finishedAt,
	}
	s.mu.Unlock()

	if s.store.Initialized() {
		st.Total = s.store.Len()
		st.Counts = s.store.Counts()
	}
	return st
}

// Report returns the current snapshot. ok is false when no campaign has been
// started since the last clear; a campaign with no recipients yields an empty
// report with ok=true.
func (s *CampaignService) Report() (model.Report, bool) {
	if !s.store.Initialized() {
		return nil, false
	}
	return s.store.Snapshot(), true
}

// ReportRows is Report in its external form.
func (s *CampaignService) ReportRows() ([]model.ReportRow, bool) {
	report, ok := s.Report()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	cfg := s.config
	s.mu.Unlock()

	rows := make([]model.ReportRow, len(report))
	for i, st := range report {
		a1, a2 := cfg.FolderNames(st.Recipient.Ordinal)
		rows[i] = model.NewReportRow(st, a1, a2)
	}
	return rows, true
}

// Preview renders the message a recipient would receive, without sending.
func (s *CampaignService) Preview(cfg model.CampaignConfig, rec model.Recipient) (subject, html string, err error) {
	fields := templateFields(rec)
	html, err = ComposeHTML(
		RenderTemplate(cfg.BodyTemplate, fields),
		RenderTemplate(cfg.FooterTemplate, fields),
		cfg.Logo != nil,
		cfg.Flyer != nil,
	)
	if err != nil {
		return "", "", err
	}
	return RenderTemplate(cfg.SubjectTemplate, fields), html, nil
}

func (s *CampaignService) loadShared(cfg model.CampaignConfig) (model.CampaignConfig, error) {
	load := func(a *model.Attachment, cid string) (*model.Attachment, error) {
		if a == nil {
			return nil, nil
		}
		loaded := *a
		loaded.ContentID = cid
		if s.opts.LoadAttachment != nil {
			var err error
			if loaded, err = s.opts.LoadAttachment(loaded); err != nil {
				return nil, appErrors.NewValidation(cid, err.Error())
			}
		}
		return &loaded, nil
	}

	var err error
	if cfg.Logo, err = load(cfg.Logo, LogoContentID); err != nil {
		return cfg, err
	}
	if cfg.Flyer, err = load(cfg.Flyer, FlyerContentID); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg model.CampaignConfig) error {
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		return appErrors.NewValidation("sender_email", "required")
	}
	if err := mail.ValidateAddress(cfg.SenderEmail); err != nil {
		return appErrors.NewValidation("sender_email", "not a valid address")
	}
	if cfg.SenderCredential == "" {
		return appErrors.NewValidation("password", "required")
	}
	if strings.TrimSpace(cfg.SubjectTemplate) == "" {
		return appErrors.NewValidation("subject", "required")
	}
	if strings.TrimSpace(cfg.BodyTemplate) == "" {
		return appErrors.NewValidation("body_html", "required")
	}
	return nil
}
