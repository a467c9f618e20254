package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezamarco14/resu-sistem/internal/model"
)

func TestInMemoryQueueNoSubscribers(t *testing.T) {
	q := NewInMemoryQueue(nil)
	assert.Error(t, q.Publish("nobody", 1))
}

func TestInMemoryQueueRetriesUntilSuccess(t *testing.T) {
	q := NewInMemoryQueue(nil)
	q.RetryDelay = time.Millisecond

	var calls atomic.Int32
	require.NoError(t, q.Subscribe("t", func(payload any) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}))

	require.NoError(t, q.Publish("t", "x"))
	q.Wait()
	assert.Equal(t, int32(3), calls.Load())
}

func TestInMemoryQueueGivesUp(t *testing.T) {
	q := NewInMemoryQueue(nil)
	q.RetryDelay = time.Millisecond
	q.MaxRetries = 2

	var calls atomic.Int32
	require.NoError(t, q.Subscribe("t", func(payload any) error {
		calls.Add(1)
		return errors.New("always")
	}))

	require.NoError(t, q.Publish("t", "x"))
	q.Wait()
	assert.Equal(t, int32(3), calls.Load(), "first try plus two retries")
}

func TestInMemoryQueueFansOut(t *testing.T) {
	q := NewInMemoryQueue(nil)

	var mu sync.Mutex
	var got []string
	for _, name := range []string{"a", "b"} {
		name := name
		require.NoError(t, q.Subscribe("t", func(payload any) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+payload.(string))
			return nil
		}))
	}

	require.NoError(t, q.Publish("t", "hello"))
	q.Wait()
	assert.ElementsMatch(t, []string{"a:hello", "b:hello"}, got)
}

type recordingSink struct {
	mu         sync.Mutex
	started    []string
	deliveries []model.Delivery
	finished   []model.Phase
	fail       int
}

func (s *recordingSink) CampaignStarted(ctx context.Context, c model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, c.ID)
	return nil
}

func (s *recordingSink) DeliveryRecorded(ctx context.Context, d model.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("db down")
	}
	s.deliveries = append(s.deliveries, d)
	return nil
}

func (s *recordingSink) CampaignFinished(ctx context.Context, c model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, c.Phase)
	return nil
}

func TestOutcomeHandlerDispatchesByType(t *testing.T) {
	sink := &recordingSink{}
	handle := NewOutcomeHandler(sink, time.Second)

	require.NoError(t, handle(OutcomeEvent{
		Type:       EventCampaignStarted,
		CampaignID: "c1",
		Campaign:   &model.Campaign{ID: "c1"},
	}))

	body, err := json.Marshal(OutcomeEvent{
		Type:       EventDelivery,
		CampaignID: "c1",
		Delivery:   &model.Delivery{CampaignID: "c1", Email: "a@x.com", Status: model.StatusSent, Attempts: 1},
	})
	require.NoError(t, err)
	require.NoError(t, handle(body))

	require.NoError(t, handle(&OutcomeEvent{
		Type:     EventCampaignFinished,
		Campaign: &model.Campaign{ID: "c1", Phase: model.PhaseCompleted},
	}))

	assert.Equal(t, []string{"c1"}, sink.started)
	require.Len(t, sink.deliveries, 1)
	assert.Equal(t, "a@x.com", sink.deliveries[0].Email)
	assert.Equal(t, []model.Phase{model.PhaseCompleted}, sink.finished)

	assert.NoError(t, handle([]byte("not json")), "malformed events are dropped")
	assert.NoError(t, handle(42))
}

func TestOutcomeHandlerThroughQueueRetriesSinkErrors(t *testing.T) {
	sink := &recordingSink{fail: 1}
	q := NewInMemoryQueue(nil)
	q.RetryDelay = time.Millisecond
	require.NoError(t, q.Subscribe(TopicOutcomes, NewOutcomeHandler(sink, time.Second)))

	require.NoError(t, q.Publish(TopicOutcomes, OutcomeEvent{
		Type:     EventDelivery,
		Delivery: &model.Delivery{Email: "a@x.com", Status: model.StatusSent, Attempts: 1},
	}))
	q.Wait()

	assert.Len(t, sink.deliveries, 1)
}

func TestRetryCountHeader(t *testing.T) {
	assert.Equal(t, int32(0), retryCount(nil))
	assert.Equal(t, int32(2), retryCount(amqp.Table{retryHeader: int32(2)}))
	assert.Equal(t, int32(3), retryCount(amqp.Table{retryHeader: int64(3)}))
}

func TestAMQPQueueName(t *testing.T) {
	q := &AMQPQueue{prefix: "mailer"}
	assert.Equal(t, "mailer.campaign.outcomes", q.QueueName(TopicOutcomes))
	assert.Equal(t, "x", (&AMQPQueue{}).QueueName("x"))
}
