package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"coldreach/models"
	"coldreach/queue"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HandleGenerateReply materializes a simulated reply in the inbox view. It is
// scheduled with a short delay after a replied event, so conversations show up
// a little while after the statistics move, the way a real inbox would.
func (e *Engine) HandleGenerateReply(payload queue.Payload) (queue.Payload, error) {
	leadID := payload.Uint("campaign_lead_id")
	if leadID == 0 {
		return nil, queue.Permanent(fmt.Errorf("generate reply without campaign_lead_id"))
	}

	var enrollment models.CampaignLead
	if err := e.db.Preload("Lead").First(&enrollment, leadID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, queue.Permanent(fmt.Errorf("enrollment %d not found", leadID))
		}
		return nil, fmt.Errorf("load enrollment %d: %w", leadID, err)
	}

	var campaign models.Campaign
	err := e.db.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order asc")
	}).First(&campaign, enrollment.CampaignID).Error
	if err != nil {
		return nil, fmt.Errorf("load campaign %d: %w", enrollment.CampaignID, err)
	}
	if campaign.EmailAccountID == nil {
		return queue.Payload{"skipped": "campaign has no sending account"}, nil
	}

	var account models.EmailAccount
	if err := e.db.First(&account, *campaign.EmailAccountID).Error; err != nil {
		return nil, fmt.Errorf("load account %d: %w", *campaign.EmailAccountID, err)
	}

	// Redelivered jobs (stale reclaim, crash before ack) must not duplicate
	// the conversation. Every replied event gets exactly one thread.
	var replied, threads int64
	if err := e.db.Model(&models.EmailEvent{}).
		Where("campaign_lead_id = ? AND type = ?", enrollment.ID, models.EventReplied).
		Count(&replied).Error; err != nil {
		return nil, fmt.Errorf("count replied events: %w", err)
	}
	if err := e.db.Model(&models.EmailThread{}).
		Where("campaign_lead_id = ?", enrollment.ID).
		Count(&threads).Error; err != nil {
		return nil, fmt.Errorf("count threads: %w", err)
	}
	if threads >= replied {
		return queue.Payload{"skipped": "reply already materialized"}, nil
	}

	category := e.replyCategory(enrollment.ID)

	// Subject threads off the step that triggered the reply
	originalSubject := "Your email"
	if idx := enrollment.CurrentStep - 1; idx >= 0 && idx < len(campaign.Steps) {
		originalSubject = campaign.Steps[idx].Subject
	} else if len(campaign.Steps) > 0 {
		originalSubject = campaign.Steps[0].Subject
	}

	subject, body := e.sim.ReplyContent(category, enrollment.Lead.DisplayName(), account.Name, enrollment.Lead.Email)
	now := time.Now()

	txErr := e.db.Transaction(func(tx *gorm.DB) error {
		thread := models.EmailThread{
			EmailAccountID: account.ID,
			CampaignID:     &campaign.ID,
			CampaignLeadID: &enrollment.ID,
			Subject:        "Re: " + originalSubject,
			LeadEmail:      enrollment.Lead.Email,
			LeadName:       enrollment.Lead.DisplayName(),
			Category:       category,
			Unread:         true,
			LastMessageAt:  now,
		}
		if err := tx.Create(&thread).Error; err != nil {
			return fmt.Errorf("create thread: %w", err)
		}

		message := models.EmailMessage{
			ThreadID:  thread.ID,
			MessageID: uuid.New().String(),
			Direction: models.DirectionInbound,
			FromEmail: enrollment.Lead.Email,
			ToEmail:   account.Email,
			Subject:   subject,
			Body:      body,
			SentAt:    now,
		}
		if err := tx.Create(&message).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	return queue.Payload{"generated": true, "category": string(category)}, nil
}

// replyCategory recovers the category rolled at send time from the replied
// event's metadata, falling back to a fresh weighted draw.
func (e *Engine) replyCategory(campaignLeadID uint) models.ThreadCategory {
	var event models.EmailEvent
	err := e.db.
		Where("campaign_lead_id = ? AND type = ?", campaignLeadID, models.EventReplied).
		Order("occurred_at desc").
		First(&event).Error
	if err == nil && event.Metadata != "" {
		var meta struct {
			Category models.ThreadCategory `json:"category"`
		}
		if json.Unmarshal([]byte(event.Metadata), &meta) == nil && meta.Category.Valid() {
			return meta.Category
		}
	}
	return e.sim.Category()
}
