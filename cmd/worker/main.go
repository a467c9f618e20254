// cmd/worker consumes outcome events from the broker and persists them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezamarco14/resu-sistem/internal/app"
	"github.com/mezamarco14/resu-sistem/internal/config"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/model"
	"github.com/mezamarco14/resu-sistem/internal/queue"
)

const sinkTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format).WithComponent("worker")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	if cfg.AMQP.URL == "" {
		return errors.New("amqp.url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	sinks := backends.Sinks()
	if len(sinks) == 0 {
		return errors.New("nothing to persist to: configure database.url or redis.addr")
	}

	q, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue, log)
	if err != nil {
		return err
	}
	defer q.Close()

	if err := q.Subscribe(queue.TopicOutcomes, newHandler(sinks, log)); err != nil {
		return err
	}

	log.Info().Str("queue", q.QueueName(queue.TopicOutcomes)).Int("sinks", len(sinks)).Msg("worker running, waiting for events")
	<-ctx.Done()
	log.Info().Msg("worker shutting down")
	return nil
}

func newHandler(sinks []queue.OutcomeSink, log *logger.Logger) func(payload any) error {
	handle := queue.NewOutcomeHandler(multiSink(sinks), sinkTimeout)
	return func(payload any) error {
		if err := handle(payload); err != nil {
			log.Warn().Err(err).Msg("failed to persist event")
			return err
		}
		return nil
	}
}

// multiSink applies every event to all sinks. Sinks are idempotent, so an
// event redelivered after a partial failure is safe.
type multiSink []queue.OutcomeSink

func (m multiSink) CampaignStarted(ctx context.Context, c model.Campaign) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.CampaignStarted(ctx, c))
	}
	return errors.Join(errs...)
}

func (m multiSink) DeliveryRecorded(ctx context.Context, d model.Delivery) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.DeliveryRecorded(ctx, d))
	}
	return errors.Join(errs...)
}

func (m multiSink) CampaignFinished(ctx context.Context, c model.Campaign) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.CampaignFinished(ctx, c))
	}
	return errors.Join(errs...)
}
