package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

// saveDelivery writes a delivery only when its progress is at least the
// stored one.
var saveDelivery = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '-1')
if current > tonumber(ARGV[3]) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('PEXPIRE', KEYS[2], ARGV[4])
return 1
`)

// OutcomeCache mirrors campaign outcomes into Redis so a report survives a
// process restart.
type OutcomeCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOutcomeCache(rdb *redis.Client, ttl time.Duration) *OutcomeCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &OutcomeCache{rdb: rdb, ttl: ttl}
}

func metaKey(campaignID string) string     { return fmt.Sprintf("campaign:%s:meta", campaignID) }
func outcomesKey(campaignID string) string { return fmt.Sprintf("campaign:%s:outcomes", campaignID) }
func progressKey(campaignID string) string { return fmt.Sprintf("campaign:%s:progress", campaignID) }

// CampaignStarted stores the header unless one exists, so a start event
// delivered late never hides the finished phase.
func (c *OutcomeCache) CampaignStarted(ctx context.Context, campaign model.Campaign) error {
	b, err := json.Marshal(campaign)
	if err != nil {
		return err
	}
	return c.rdb.SetNX(ctx, metaKey(campaign.ID), b, c.ttl).Err()
}

func (c *OutcomeCache) CampaignFinished(ctx context.Context, campaign model.Campaign) error {
	b, err := json.Marshal(campaign)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, metaKey(campaign.ID), b, c.ttl).Err()
}

func (c *OutcomeCache) DeliveryRecorded(ctx context.Context, d model.Delivery) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	keys := []string{outcomesKey(d.CampaignID), progressKey(d.CampaignID)}
	return saveDelivery.Run(ctx, c.rdb, keys,
		model.NormalizeEmail(d.Email),
		string(b),
		d.Progress(),
		c.ttl.Milliseconds(),
	).Err()
}

// Report rebuilds a campaign report from the cache.
func (c *OutcomeCache) Report(ctx context.Context, campaignID string) (*model.Campaign, model.Report, error) {
	raw, err := c.rdb.Get(ctx, metaKey(campaignID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil, appErrors.NewCampaignNotFound(campaignID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	var campaign model.Campaign
	if err := json.Unmarshal(raw, &campaign); err != nil {
		return nil, nil, fmt.Errorf("decode campaign %s: %w", campaignID, err)
	}

	values, err := c.rdb.HGetAll(ctx, outcomesKey(campaignID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load outcomes %s: %w", campaignID, err)
	}
	deliveries := make([]model.Delivery, 0, len(values))
	for _, v := range values {
		var d model.Delivery
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			continue
		}
		deliveries = append(deliveries, d)
	}
	sort.Slice(deliveries, func(i, j int) bool { return deliveries[i].Ordinal < deliveries[j].Ordinal })

	report := make(model.Report, 0, len(deliveries))
	for _, d := range deliveries {
		report = append(report, d.State())
	}
	return &campaign, report, nil
}
