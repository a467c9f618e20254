package app

import (
	"time"

	"github.com/mezamarco14/resu-sistem/internal/config"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/mail"
	"github.com/mezamarco14/resu-sistem/internal/queue"
	"github.com/mezamarco14/resu-sistem/internal/service"
	"github.com/mezamarco14/resu-sistem/internal/storage"
)

const sinkTimeout = 10 * time.Second

// NewTransport returns the configured mail transport.
func NewTransport(cfg *config.Config, log *logger.Logger) mail.Transport {
	if cfg.Mail.Provider == "resend" {
		return mail.NewResendTransport()
	}
	return mail.NewSMTPTransport(mail.SMTPConfig{
		Host:               cfg.Mail.SMTP.Host,
		Port:               cfg.Mail.SMTP.Port,
		RequireTLS:         cfg.Mail.SMTP.RequireTLS,
		InsecureSkipVerify: cfg.Mail.SMTP.InsecureSkipVerify,
		Timeout:            cfg.Mail.SMTP.Timeout,
	}, log)
}

// ServiceOptions maps the dispatch section onto campaign service options.
func ServiceOptions(cfg *config.Config) service.Options {
	return service.Options{
		Workers: cfg.Dispatch.Workers,
		Policy: service.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.Dispatch.BaseDelay,
			MaxDelay:    cfg.Dispatch.MaxDelay,
			Jitter:      cfg.Dispatch.Jitter,
		},
		ConnectTimeout: cfg.Dispatch.ConnectTimeout,
		SendTimeout:    cfg.Dispatch.SendTimeout,
		LoadAttachment: storage.Load,
	}
}

// Journal carries outcome events away from the campaign service.
type Journal struct {
	queue.Queue
	memory *queue.InMemoryQueue
	amqp   *queue.AMQPQueue
}

// NewJournal publishes to the broker when one is configured, so cmd/worker
// persists the events. Otherwise the sinks are fed in-process. With neither
// it returns nil.
func NewJournal(cfg *config.Config, b *Backends, log *logger.Logger) (*Journal, error) {
	if cfg.AMQP.URL != "" {
		q, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue, log)
		if err != nil {
			return nil, err
		}
		log.Info().Str("queue", q.QueueName(queue.TopicOutcomes)).Msg("journaling outcomes to broker")
		return &Journal{Queue: q, amqp: q}, nil
	}

	sinks := b.Sinks()
	if len(sinks) == 0 {
		return nil, nil
	}
	q := queue.NewInMemoryQueue(log)
	for _, sink := range sinks {
		if err := q.Subscribe(queue.TopicOutcomes, queue.NewOutcomeHandler(sink, sinkTimeout)); err != nil {
			return nil, err
		}
	}
	return &Journal{Queue: q, memory: q}, nil
}

// AsQueue returns the journal as a queue.Queue, nil when there is none.
func (j *Journal) AsQueue() queue.Queue {
	if j == nil {
		return nil
	}
	return j.Queue
}

// Close flushes in-process deliveries and closes the broker connection.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	if j.memory != nil {
		j.memory.Wait()
	}
	if j.amqp != nil {
		j.amqp.Close()
	}
}
