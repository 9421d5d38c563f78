package engine

import (
	"fmt"
	"time"

	"coldreach/models"
	"coldreach/queue"
	"coldreach/simulate"

	"gorm.io/gorm"
)

// HandleStatsRollup recounts a campaign's denormalized counters from the
// append-only event log and refreshes the sending account's health score.
// Counters bumped inline at send time can drift if a handler is retried, so
// the event log is the source of truth and this rollup reconciles against it.
func (e *Engine) HandleStatsRollup(payload queue.Payload) (queue.Payload, error) {
	campaignID := payload.Uint("campaign_id")
	if campaignID == 0 {
		return nil, queue.Permanent(fmt.Errorf("stats rollup without campaign_id"))
	}

	var campaign models.Campaign
	if err := e.db.First(&campaign, campaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, queue.Permanent(fmt.Errorf("campaign %d not found", campaignID))
		}
		return nil, fmt.Errorf("load campaign %d: %w", campaignID, err)
	}

	counts, err := e.countEvents(campaignID)
	if err != nil {
		return nil, err
	}

	var totalLeads int64
	if err := e.db.Model(&models.CampaignLead{}).
		Where("campaign_id = ?", campaignID).
		Count(&totalLeads).Error; err != nil {
		return nil, fmt.Errorf("count enrollments: %w", err)
	}

	updates := map[string]interface{}{
		"total_leads":     totalLeads,
		"sent_count":      counts[models.EventSent],
		"delivered_count": counts[models.EventDelivered],
		"opened_count":    counts[models.EventOpened],
		"clicked_count":   counts[models.EventClicked],
		"replied_count":   counts[models.EventReplied],
		"bounced_count":   counts[models.EventBounced],
	}
	if err := e.db.Model(&campaign).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update campaign counters: %w", err)
	}

	if campaign.EmailAccountID != nil {
		if err := e.refreshAccountHealth(*campaign.EmailAccountID); err != nil {
			return nil, err
		}
	}

	return queue.Payload{
		"total_leads": totalLeads,
		"sent":        counts[models.EventSent],
		"replied":     counts[models.EventReplied],
	}, nil
}

// countEvents tallies the campaign's event log by type through the enrollment
// join.
func (e *Engine) countEvents(campaignID uint) (map[models.EmailEventType]int64, error) {
	type row struct {
		Type  models.EmailEventType
		Total int64
	}
	var rows []row
	err := e.db.Model(&models.EmailEvent{}).
		Select("email_events.type AS type, COUNT(*) AS total").
		Joins("JOIN campaign_leads ON campaign_leads.id = email_events.campaign_lead_id").
		Where("campaign_leads.campaign_id = ?", campaignID).
		Group("email_events.type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	counts := make(map[models.EmailEventType]int64, len(rows))
	for _, r := range rows {
		counts[r.Type] = r.Total
	}
	return counts, nil
}

// refreshAccountHealth recomputes bounce and spam rates across everything the
// account has ever sent, then derives the health score.
func (e *Engine) refreshAccountHealth(accountID uint) error {
	type row struct {
		Type  models.EmailEventType
		Total int64
	}
	var rows []row
	err := e.db.Model(&models.EmailEvent{}).
		Select("email_events.type AS type, COUNT(*) AS total").
		Joins("JOIN campaign_leads ON campaign_leads.id = email_events.campaign_lead_id").
		Joins("JOIN campaigns ON campaigns.id = campaign_leads.campaign_id").
		Where("campaigns.email_account_id = ?", accountID).
		Group("email_events.type").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("count account events: %w", err)
	}

	var sent, bounced, spam int64
	for _, r := range rows {
		switch r.Type {
		case models.EventSent:
			sent = r.Total
		case models.EventBounced:
			bounced = r.Total
		case models.EventSpam:
			spam = r.Total
		}
	}
	if sent == 0 {
		return nil
	}

	bounceRate := float64(bounced) / float64(sent)
	spamRate := float64(spam) / float64(sent)

	err = e.db.Model(&models.EmailAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"bounce_rate":  bounceRate,
			"spam_rate":    spamRate,
			"health_score": simulate.HealthScore(bounceRate, spamRate),
			"updated_at":   time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("update account health: %w", err)
	}
	return nil
}
