package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mezamarco14/resu-sistem/internal/model"
)

type DeliveryRepositoryInterface interface {
	Save(ctx context.Context, d model.Delivery) error
	ListByCampaign(ctx context.Context, campaignID string) ([]model.Delivery, error)
}

// DeliveryRepository stores one row per campaign recipient.
type DeliveryRepository struct {
	DB *sql.DB
}

// deliveryRank mirrors model.Delivery.Rank for a stored row.
const deliveryRank = `CASE WHEN %[1]s.status = 'pending' THEN 0 WHEN %[1]s.status = 'failed' AND %[1]s.retry_at IS NOT NULL THEN 1 ELSE 2 END`

var saveDeliveryQuery = fmt.Sprintf(`
	INSERT INTO campaign_deliveries
	(campaign_id, email, name, ordinal, status, kind, reason, attempts, duration_ms, completed_at, retry_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	ON CONFLICT (campaign_id, email) DO UPDATE SET
		status = EXCLUDED.status,
		kind = EXCLUDED.kind,
		reason = EXCLUDED.reason,
		attempts = EXCLUDED.attempts,
		duration_ms = EXCLUDED.duration_ms,
		completed_at = EXCLUDED.completed_at,
		retry_at = EXCLUDED.retry_at,
		updated_at = NOW()
	WHERE (campaign_deliveries.attempts, %s) <= (EXCLUDED.attempts, %s)
`, fmt.Sprintf(deliveryRank, "campaign_deliveries"), fmt.Sprintf(deliveryRank, "EXCLUDED"))

// Save upserts a delivery. A row with more attempts than the incoming one, or
// as many attempts and a later state, is left untouched, so replayed or
// reordered events never move a recipient backwards.
func (r *DeliveryRepository) Save(ctx context.Context, d model.Delivery) error {
	_, err := r.DB.ExecContext(ctx, saveDeliveryQuery,
		d.CampaignID,
		model.NormalizeEmail(d.Email),
		d.Name,
		d.Ordinal,
		d.Status,
		d.Kind,
		d.Reason,
		d.Attempts,
		d.DurationMS,
		d.CompletedAt,
		d.RetryAt,
	)
	if err != nil {
		return fmt.Errorf("save delivery %s/%s: %w", d.CampaignID, d.Email, err)
	}
	return nil
}

// ListByCampaign returns the deliveries of a campaign in recipient order.
func (r *DeliveryRepository) ListByCampaign(ctx context.Context, campaignID string) ([]model.Delivery, error) {
	query := `
		SELECT campaign_id, email, name, ordinal, status, kind, reason, attempts, duration_ms, completed_at, retry_at
		FROM campaign_deliveries
		WHERE campaign_id=$1
		ORDER BY ordinal
	`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries %s: %w", campaignID, err)
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		var d model.Delivery
		if err := rows.Scan(
			&d.CampaignID,
			&d.Email,
			&d.Name,
			&d.Ordinal,
			&d.Status,
			&d.Kind,
			&d.Reason,
			&d.Attempts,
			&d.DurationMS,
			&d.CompletedAt,
			&d.RetryAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
