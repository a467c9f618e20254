package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mezamarco14/resu-sistem/internal/model"
)

// TopicOutcomes carries campaign lifecycle and per-recipient outcome events.
const TopicOutcomes = "campaign.outcomes"

type EventType string

const (
	EventCampaignStarted  EventType = "campaign.started"
	EventDelivery         EventType = "delivery.recorded"
	EventCampaignFinished EventType = "campaign.finished"
)

// OutcomeEvent is the journal record published for every state change.
type OutcomeEvent struct {
	Type       EventType       `json:"type"`
	CampaignID string          `json:"campaign_id"`
	Campaign   *model.Campaign `json:"campaign,omitempty"`
	Delivery   *model.Delivery `json:"delivery,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// OutcomeSink is a durable store fed from the outcome journal.
type OutcomeSink interface {
	CampaignStarted(ctx context.Context, c model.Campaign) error
	DeliveryRecorded(ctx context.Context, d model.Delivery) error
	CampaignFinished(ctx context.Context, c model.Campaign) error
}

// DecodeEvent accepts an OutcomeEvent value, a pointer to one, or its JSON
// encoding (as delivered by a broker).
func DecodeEvent(payload any) (OutcomeEvent, error) {
	switch p := payload.(type) {
	case OutcomeEvent:
		return p, nil
	case *OutcomeEvent:
		if p == nil {
			return OutcomeEvent{}, fmt.Errorf("nil outcome event")
		}
		return *p, nil
	case []byte:
		var ev OutcomeEvent
		if err := json.Unmarshal(p, &ev); err != nil {
			return OutcomeEvent{}, fmt.Errorf("decode outcome event: %w", err)
		}
		return ev, nil
	}
	return OutcomeEvent{}, fmt.Errorf("unexpected payload type %T", payload)
}

// NewOutcomeHandler returns a subscriber that applies events to the sink.
// Malformed events are dropped, sink errors are returned so the queue retries.
func NewOutcomeHandler(sink OutcomeSink, timeout time.Duration) func(payload any) error {
	return func(payload any) error {
		ev, err := DecodeEvent(payload)
		if err != nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		switch ev.Type {
		case EventCampaignStarted:
			if ev.Campaign == nil {
				return nil
			}
			return sink.CampaignStarted(ctx, *ev.Campaign)
		case EventDelivery:
			if ev.Delivery == nil {
				return nil
			}
			return sink.DeliveryRecorded(ctx, *ev.Delivery)
		case EventCampaignFinished:
			if ev.Campaign == nil {
				return nil
			}
			return sink.CampaignFinished(ctx, *ev.Campaign)
		}
		return nil
	}
}
