package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	Finish(ctx context.Context, id string, phase model.Phase, abortReason string, finishedAt time.Time) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
}

// CampaignRepository persists campaign headers in Postgres.
type CampaignRepository struct {
	DB *sql.DB
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
	query := `
		INSERT INTO campaigns (id, sender_email, subject, phase, total, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.DB.ExecContext(ctx, query, c.ID, c.SenderEmail, c.Subject, c.Phase, c.Total, c.StartedAt)
	if err != nil {
		return fmt.Errorf("insert campaign %s: %w", c.ID, err)
	}
	return nil
}

func (r *CampaignRepository) Finish(ctx context.Context, id string, phase model.Phase, abortReason string, finishedAt time.Time) error {
	query := `UPDATE campaigns SET phase=$1, abort_reason=$2, finished_at=$3 WHERE id=$4`
	res, err := r.DB.ExecContext(ctx, query, phase, abortReason, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finish campaign %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `
		SELECT id, sender_email, subject, phase, total, COALESCE(abort_reason, ''), started_at, finished_at
		FROM campaigns WHERE id=$1
	`
	var c model.Campaign
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.SenderEmail,
		&c.Subject,
		&c.Phase,
		&c.Total,
		&c.AbortReason,
		&c.StartedAt,
		&c.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return &c, nil
}
