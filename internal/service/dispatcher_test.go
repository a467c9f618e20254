package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/mail/mailtest"
	"github.com/mezamarco14/resu-sistem/internal/model"
	"github.com/mezamarco14/resu-sistem/internal/repository"
	"github.com/mezamarco14/resu-sistem/internal/service"
)

func fastPolicy() service.RetryPolicy {
	return service.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newRecipients(emails ...string) []model.Recipient {
	out := make([]model.Recipient, len(emails))
	for i, e := range emails {
		out[i] = model.Recipient{
			Email:   e,
			Name:    fmt.Sprintf("User %d", i),
			Fields:  model.Fields{{Name: "Nombre", Value: fmt.Sprintf("User %d", i)}},
			Ordinal: i,
		}
	}
	return out
}

func newDispatcher(t *testing.T, tr *mailtest.Transport, recipients []model.Recipient) (*service.Dispatcher, *repository.RecipientStore) {
	t.Helper()
	store := repository.NewRecipientStore()
	require.NoError(t, store.Initialize(recipients))

	client, err := tr.Connect(context.Background(), "me@x.com", "secret")
	require.NoError(t, err)

	return &service.Dispatcher{
		Store:  store,
		Client: client,
		Config: model.CampaignConfig{
			SenderEmail:     "me@x.com",
			SubjectTemplate: "Hola {{Nombre}}",
			BodyTemplate:    "<p>Hola {{Nombre}}</p>",
		},
		Policy: fastPolicy(),
	}, store
}

func TestDispatcherOutcomes(t *testing.T) {
	transient := appErrors.NewTransient(errors.New("421 try later"))
	tr := mailtest.NewTransport().
		Fail("b@x.com", transient, transient).
		Fail("c@x.com", transient, transient, transient).
		Fail("d@x.com", appErrors.NewPermanent("d@x.com", errors.New("554 spam")))

	d, _ := newDispatcher(t, tr, newRecipients("a@x.com", "bad-address", "b@x.com", "c@x.com", "d@x.com"))

	report, err := d.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, report, 5)

	byEmail := make(map[string]model.SendOutcome)
	for _, st := range report {
		byEmail[st.Recipient.Email] = st.Outcome
	}

	assert.Equal(t, model.StatusSent, byEmail["a@x.com"].Status)
	assert.Equal(t, 1, byEmail["a@x.com"].Attempts)

	assert.Equal(t, model.StatusSkipped, byEmail["bad-address"].Status)
	assert.Equal(t, model.KindInvalidRecipient, byEmail["bad-address"].Kind)
	assert.Equal(t, 1, byEmail["bad-address"].Attempts)
	assert.Zero(t, tr.Attempts("bad-address"), "invalid addresses never reach the transport")

	assert.Equal(t, model.StatusSent, byEmail["b@x.com"].Status)
	assert.Equal(t, 3, byEmail["b@x.com"].Attempts)

	assert.Equal(t, model.StatusFailed, byEmail["c@x.com"].Status)
	assert.Equal(t, model.KindTransientExhausted, byEmail["c@x.com"].Kind)
	assert.Equal(t, 3, byEmail["c@x.com"].Attempts)
	assert.Contains(t, byEmail["c@x.com"].Reason, "after 3 attempts")

	assert.Equal(t, model.StatusFailed, byEmail["d@x.com"].Status)
	assert.Equal(t, model.KindPermanent, byEmail["d@x.com"].Kind)
	assert.Equal(t, 1, tr.Attempts("d@x.com"))

	for _, st := range report {
		assert.True(t, st.Outcome.Terminal(), st.Recipient.Email)
	}
}

func TestDispatcherRendersPerRecipient(t *testing.T) {
	tr := mailtest.NewTransport()
	d, _ := newDispatcher(t, tr, newRecipients("a@x.com", "b@x.com"))
	d.Config.Folder1 = []model.Attachment{{Filename: "1.pdf", Content: []byte("one")}}
	d.Config.Folder2 = []model.Attachment{{Filename: "x1.pdf", Content: []byte("x1")}, {Filename: "x2.pdf", Content: []byte("x2")}}
	d.Config.Logo = &model.Attachment{Filename: "logo.png", ContentID: "logo", Content: []byte("png")}

	_, err := d.Run(context.Background(), 1)
	require.NoError(t, err)

	sent := tr.Sent()
	require.Len(t, sent, 2)
	for _, msg := range sent {
		switch msg.To {
		case "a@x.com":
			assert.Equal(t, "Hola User 0", msg.Subject)
			assert.Contains(t, msg.HTML, "<p>Hola User 0</p>")
			require.Len(t, msg.Attachments, 3)
			assert.Equal(t, "logo.png", msg.Attachments[0].Filename)
			assert.Equal(t, "1.pdf", msg.Attachments[1].Filename)
			assert.Equal(t, "x1.pdf", msg.Attachments[2].Filename)
		case "b@x.com":
			require.Len(t, msg.Attachments, 2)
			assert.Equal(t, "x2.pdf", msg.Attachments[1].Filename)
		}
	}
}

func TestDispatcherAttachmentLoadFailureIsPermanent(t *testing.T) {
	tr := mailtest.NewTransport()
	d, _ := newDispatcher(t, tr, newRecipients("a@x.com"))
	d.Config.Folder1 = []model.Attachment{{Filename: "gone.pdf", Path: "/nonexistent/gone.pdf"}}
	d.LoadAttachment = func(a model.Attachment) (model.Attachment, error) {
		return a, errors.New("no such file")
	}

	report, err := d.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.KindPermanent, report[0].Outcome.Kind)
	assert.Zero(t, tr.TotalAttempts())
}

func TestDispatcherBackoffDoesNotStallOthers(t *testing.T) {
	transient := appErrors.NewTransient(errors.New("busy"))
	tr := mailtest.NewTransport().Fail("slow@x.com", transient)

	emails := []string{"slow@x.com"}
	for i := 0; i < 10; i++ {
		emails = append(emails, fmt.Sprintf("u%d@x.com", i))
	}
	d, _ := newDispatcher(t, tr, newRecipients(emails...))
	d.Policy = service.RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second}

	report, err := d.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 11, report.Counts().Sent)

	sent := tr.Sent()
	require.Len(t, sent, 11)
	assert.Equal(t, "slow@x.com", sent[10].To, "the retry waits while others are sent")
}

func TestDispatcherFatalStopsNewClaims(t *testing.T) {
	tr := mailtest.NewTransport().Fail("quota@x.com", appErrors.NewFatal(errors.New("daily quota exceeded")))
	d, store := newDispatcher(t, tr, newRecipients("a@x.com", "quota@x.com", "c@x.com", "d@x.com"))

	report, err := d.Run(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, appErrors.ClassFatal, appErrors.Classify(err))

	counts := report.Counts()
	assert.Equal(t, 1, counts.Sent)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 2, counts.Pending)

	st, ok := store.Get("quota@x.com")
	require.True(t, ok)
	assert.Equal(t, model.KindFatal, st.Outcome.Kind)
	assert.Zero(t, tr.Attempts("c@x.com"))
}

func TestDispatcherCancelledContext(t *testing.T) {
	tr := mailtest.NewTransport()
	d, _ := newDispatcher(t, tr, newRecipients("a@x.com", "b@x.com"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := d.Run(ctx, 4)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Counts().Pending)
	assert.Zero(t, tr.TotalAttempts())
}

func TestDispatcherAbortFinalizesScheduledRetries(t *testing.T) {
	transient := appErrors.NewTransient(errors.New("busy"))
	tr := mailtest.NewTransport().Fail("retry@x.com", transient, transient)
	d, _ := newDispatcher(t, tr, newRecipients("retry@x.com"))
	d.Policy = service.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}

	var mu sync.Mutex
	var emitted []model.RecipientState
	d.OnOutcome = func(st model.RecipientState) {
		mu.Lock()
		defer mu.Unlock()
		emitted = append(emitted, st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	report, err := d.Run(ctx, 1)
	require.Error(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, model.StatusFailed, report[0].Outcome.Status)
	assert.Equal(t, model.KindAborted, report[0].Outcome.Kind)
	assert.True(t, report[0].Outcome.Terminal())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, emitted, 2, "the retry schedule and its finalization")
	assert.True(t, emitted[0].Outcome.Retrying())
	assert.Equal(t, model.KindAborted, emitted[1].Outcome.Kind)
}

func TestDispatcherSessionsBoundedByConcurrency(t *testing.T) {
	emails := make([]string, 40)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%d@x.com", i)
	}
	transient := appErrors.NewTransient(errors.New("reset"))
	tr := mailtest.NewTransport().Fail("user3@x.com", transient).Fail("user7@x.com", transient)
	tr.Delay = 2 * time.Millisecond

	d, _ := newDispatcher(t, tr, newRecipients(emails...))

	report, err := d.Run(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 40, report.Counts().Sent)
	assert.LessOrEqual(t, tr.MaxOpenSessions(), 4)
	assert.Zero(t, tr.OpenSessions(), "every session is closed when workers exit")
}

func TestDispatcherSameOutcomesAcrossConcurrency(t *testing.T) {
	build := func() *mailtest.Transport {
		transient := appErrors.NewTransient(errors.New("busy"))
		tr := mailtest.NewTransport()
		for i := 0; i < 30; i++ {
			email := fmt.Sprintf("user%d@x.com", i)
			switch i % 5 {
			case 1:
				tr.Fail(email, transient)
			case 2:
				tr.Fail(email, transient, transient, transient)
			case 3:
				tr.Fail(email, appErrors.NewInvalidRecipient(email, errors.New("550 no such user")))
			}
		}
		return tr
	}
	emails := make([]string, 30)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%d@x.com", i)
	}

	outcomes := func(concurrency int) map[string]string {
		d, _ := newDispatcher(t, build(), newRecipients(emails...))
		report, err := d.Run(context.Background(), concurrency)
		require.NoError(t, err)
		out := make(map[string]string)
		for _, st := range report {
			out[st.Recipient.Email] = fmt.Sprintf("%s/%s/%d", st.Outcome.Status, st.Outcome.Kind, st.Outcome.Attempts)
		}
		return out
	}

	assert.Equal(t, outcomes(1), outcomes(8))
}
