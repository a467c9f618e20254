package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/model"
	"github.com/mezamarco14/resu-sistem/internal/queue"
)

// MockSink stores events in memory
type MockSink struct {
	mu         sync.Mutex
	campaigns  map[string]model.Campaign
	deliveries map[string]model.Delivery
	fail       error
}

func newMockSink() *MockSink {
	return &MockSink{campaigns: map[string]model.Campaign{}, deliveries: map[string]model.Delivery{}}
}

func (m *MockSink) CampaignStarted(ctx context.Context, c model.Campaign) error {
	return m.CampaignFinished(ctx, c)
}

func (m *MockSink) DeliveryRecorded(ctx context.Context, d model.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.deliveries[d.Email] = d
	return nil
}

func (m *MockSink) CampaignFinished(ctx context.Context, c model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.campaigns[c.ID] = c
	return nil
}

func encode(t *testing.T, ev queue.OutcomeEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestWorkerPersistsBrokerEvents(t *testing.T) {
	pg, cache := newMockSink(), newMockSink()
	handle := newHandler([]queue.OutcomeSink{cache, pg}, logger.Nop())

	require.NoError(t, handle(encode(t, queue.OutcomeEvent{
		Type:       queue.EventCampaignStarted,
		CampaignID: "c1",
		Campaign:   &model.Campaign{ID: "c1", Phase: model.PhaseRunning, Total: 1},
	})))
	require.NoError(t, handle(encode(t, queue.OutcomeEvent{
		Type:       queue.EventDelivery,
		CampaignID: "c1",
		Delivery:   &model.Delivery{CampaignID: "c1", Email: "a@x.com", Status: model.StatusSent, Attempts: 1},
	})))
	require.NoError(t, handle(encode(t, queue.OutcomeEvent{
		Type:       queue.EventCampaignFinished,
		CampaignID: "c1",
		Campaign:   &model.Campaign{ID: "c1", Phase: model.PhaseCompleted, Total: 1},
	})))

	for _, sink := range []*MockSink{pg, cache} {
		assert.Equal(t, model.PhaseCompleted, sink.campaigns["c1"].Phase)
		assert.Equal(t, model.StatusSent, sink.deliveries["a@x.com"].Status)
	}
}

func TestWorkerReturnsSinkErrorsForRedelivery(t *testing.T) {
	good, bad := newMockSink(), newMockSink()
	bad.fail = errors.New("connection refused")
	handle := newHandler([]queue.OutcomeSink{good, bad}, logger.Nop())

	err := handle(encode(t, queue.OutcomeEvent{
		Type:     queue.EventDelivery,
		Delivery: &model.Delivery{CampaignID: "c1", Email: "a@x.com", Status: model.StatusSent, Attempts: 1},
	}))
	assert.ErrorContains(t, err, "connection refused")
	assert.Contains(t, good.deliveries, "a@x.com", "healthy sinks are still written")
}

func TestWorkerDropsMalformedEvents(t *testing.T) {
	sink := newMockSink()
	handle := newHandler([]queue.OutcomeSink{sink}, logger.Nop())

	assert.NoError(t, handle([]byte("{not json")))
	assert.Empty(t, sink.deliveries)
}
