// internal/service/dispatcher.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/mail"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

// RecipientStore defines the methods the dispatcher needs
type RecipientStore interface {
	ClaimNext(now time.Time) (model.RecipientState, time.Duration, bool)
	RecordOutcome(key string, outcome model.SendOutcome) error
	Snapshot() model.Report
	AbortPending(reason string) []model.RecipientState
}

// Dispatcher fans a campaign out over a fixed pool of workers. Each worker
// owns at most one mail session. Retries go back to the store with a due
// time, so a recipient in backoff never holds a worker.
type Dispatcher struct {
	Store  RecipientStore
	Client mail.Client
	// Config must carry shared attachments already loaded.
	Config      model.CampaignConfig
	Policy      RetryPolicy
	SendTimeout time.Duration
	// LoadAttachment reads a per-recipient file. Failures are permanent for
	// that recipient.
	LoadAttachment func(model.Attachment) (model.Attachment, error)
	// OnOutcome is called after every recorded outcome.
	OnOutcome func(model.RecipientState)
	Log       *logger.Logger
	Now       func() time.Time
}

// Run dispatches until every recipient is resolved or the run is aborted,
// either by ctx or by a fatal transport error. In-flight sends always finish.
// On abort, recipients waiting for a retry become terminal failures and the
// returned error is the abort cause.
func (d *Dispatcher) Run(ctx context.Context, concurrency int) (model.Report, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}

	stopCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	var g errgroup.Group
	for i := 0; i < concurrency; i++ {
		id := i
		g.Go(func() error {
			d.work(stopCtx, stop, id)
			return nil
		})
	}
	g.Wait()

	if stopCtx.Err() == nil {
		return d.Store.Snapshot(), nil
	}

	cause := context.Cause(stopCtx)
	for _, st := range d.Store.AbortPending(cause.Error()) {
		d.emit(st)
	}
	return d.Store.Snapshot(), cause
}

func (d *Dispatcher) work(stopCtx context.Context, stop context.CancelCauseFunc, id int) {
	log := d.Log.With().Int("worker", id).Logger()

	var session mail.Session
	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	for {
		if stopCtx.Err() != nil {
			return
		}

		state, wait, ok := d.Store.ClaimNext(d.now())
		if !ok {
			if wait == 0 {
				return
			}
			timer := time.NewTimer(wait)
			select {
			case <-stopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		outcome, fatal := d.attempt(stopCtx, &session, state)
		key := state.Recipient.Key()
		if err := d.Store.RecordOutcome(key, outcome); err != nil {
			log.Error().Err(err).Str("email", state.Recipient.Email).Msg("failed to record outcome")
			continue
		}
		state.Outcome = outcome
		d.emit(state)

		ev := log.Debug()
		if outcome.Status != model.StatusSent {
			ev = log.Warn()
		}
		ev.Str("email", state.Recipient.Email).
			Str("status", string(outcome.Status)).
			Str("kind", string(outcome.Kind)).
			Int("attempts", outcome.Attempts).
			Str("reason", outcome.Reason).
			Msg("recipient attempt recorded")

		if fatal != nil {
			stop(fatal)
			return
		}
	}
}

// attempt makes one delivery attempt and turns its result into an outcome.
// A non-nil second return value aborts the campaign.
func (d *Dispatcher) attempt(stopCtx context.Context, session *mail.Session, state model.RecipientState) (model.SendOutcome, error) {
	start := d.now()
	rec := state.Recipient
	attempts := state.Outcome.Attempts + 1

	err := d.deliver(stopCtx, session, rec)
	class := appErrors.Classify(err)
	if (class == appErrors.ClassTransient || class == appErrors.ClassFatal) && *session != nil {
		(*session).Close()
		*session = nil
	}

	end := d.now()
	outcome := model.SendOutcome{
		Attempts:    attempts,
		Duration:    state.Outcome.Duration + end.Sub(start),
		CompletedAt: end,
	}
	if err != nil {
		outcome.Reason = err.Error()
	}

	verdict, delay := d.Policy.Decide(class, attempts)
	switch {
	case class == appErrors.ClassSuccess:
		outcome.Status = model.StatusSent
	case class == appErrors.ClassInvalidRecipient:
		outcome.Status = model.StatusSkipped
		outcome.Kind = model.KindInvalidRecipient
	case verdict == VerdictAbort:
		outcome.Status = model.StatusFailed
		outcome.Kind = model.KindFatal
		return outcome, err
	case verdict == VerdictRetry && stopCtx.Err() == nil:
		outcome.Status = model.StatusFailed
		outcome.Kind = model.KindTransient
		outcome.RetryAt = end.Add(delay)
	case verdict == VerdictRetry:
		outcome.Status = model.StatusFailed
		outcome.Kind = model.KindAborted
	case class == appErrors.ClassTransient:
		outcome.Status = model.StatusFailed
		outcome.Kind = model.KindTransientExhausted
		outcome.Reason = fmt.Sprintf("failed after %d attempts: %s", attempts, outcome.Reason)
	default:
		outcome.Status = model.StatusFailed
		outcome.Kind = model.KindPermanent
	}
	return outcome, nil
}

func (d *Dispatcher) deliver(stopCtx context.Context, session *mail.Session, rec model.Recipient) error {
	if err := mail.ValidateAddress(rec.Email); err != nil {
		return err
	}

	msg, err := d.compose(rec)
	if err != nil {
		return appErrors.NewPermanent(rec.Email, err)
	}

	// sends are not cancelled by an abort, only bounded by the timeout
	sendCtx := context.WithoutCancel(stopCtx)
	if d.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, d.SendTimeout)
		defer cancel()
	}

	if *session == nil {
		s, err := d.Client.Session(sendCtx)
		if err != nil {
			return err
		}
		*session = s
	}

	err = (*session).Send(sendCtx, msg)
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.NewTransient(err)
	}
	return err
}

func (d *Dispatcher) compose(rec model.Recipient) (*mail.Message, error) {
	cfg := d.Config
	fields := templateFields(rec)

	html, err := ComposeHTML(
		RenderTemplate(cfg.BodyTemplate, fields),
		RenderTemplate(cfg.FooterTemplate, fields),
		cfg.Logo != nil,
		cfg.Flyer != nil,
	)
	if err != nil {
		return nil, err
	}

	msg := &mail.Message{
		From:    cfg.SenderEmail,
		To:      rec.Email,
		Subject: RenderTemplate(cfg.SubjectTemplate, fields),
		HTML:    html,
	}
	if cfg.Logo != nil {
		msg.Attachments = append(msg.Attachments, *cfg.Logo)
	}
	if cfg.Flyer != nil {
		msg.Attachments = append(msg.Attachments, *cfg.Flyer)
	}
	for _, a := range cfg.FolderAttachments(rec.Ordinal) {
		if d.LoadAttachment != nil {
			if a, err = d.LoadAttachment(a); err != nil {
				return nil, err
			}
		}
		msg.Attachments = append(msg.Attachments, a)
	}
	return msg, nil
}

// templateFields exposes the row columns plus Name and Email fallbacks.
func templateFields(rec model.Recipient) model.Fields {
	fields := make(model.Fields, 0, len(rec.Fields)+2)
	fields = append(fields, rec.Fields...)
	fields = append(fields,
		model.Field{Name: "Name", Value: rec.Name},
		model.Field{Name: "Email", Value: rec.Email},
	)
	return fields
}

func (d *Dispatcher) emit(st model.RecipientState) {
	if d.OnOutcome != nil {
		d.OnOutcome(st)
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
