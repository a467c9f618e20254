package repository

import (
	"context"
	"errors"
	"time"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

// ReportRepository is the durable side of the outcome journal: campaign
// headers plus one delivery row per recipient.
type ReportRepository struct {
	Campaigns  CampaignRepositoryInterface
	Deliveries DeliveryRepositoryInterface
}

func (r *ReportRepository) CampaignStarted(ctx context.Context, c model.Campaign) error {
	return r.Campaigns.Create(ctx, &c)
}

func (r *ReportRepository) DeliveryRecorded(ctx context.Context, d model.Delivery) error {
	return r.Deliveries.Save(ctx, d)
}

func (r *ReportRepository) CampaignFinished(ctx context.Context, c model.Campaign) error {
	finishedAt := time.Now()
	if c.FinishedAt != nil {
		finishedAt = *c.FinishedAt
	}
	err := r.Campaigns.Finish(ctx, c.ID, c.Phase, c.AbortReason, finishedAt)
	var notFound *appErrors.ErrCampaignNotFound
	if errors.As(err, &notFound) {
		// the start event has not landed yet
		c.FinishedAt = &finishedAt
		if err := r.Campaigns.Create(ctx, &c); err != nil {
			return err
		}
		return r.Campaigns.Finish(ctx, c.ID, c.Phase, c.AbortReason, finishedAt)
	}
	return err
}

// Report loads a persisted campaign and its recipient states.
func (r *ReportRepository) Report(ctx context.Context, campaignID string) (*model.Campaign, model.Report, error) {
	c, err := r.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	deliveries, err := r.Deliveries.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	report := make(model.Report, 0, len(deliveries))
	for _, d := range deliveries {
		report = append(report, d.State())
	}
	return c, report, nil
}
