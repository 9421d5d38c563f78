package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"coldreach/models"
	"coldreach/queue"
	"coldreach/utils"

	"gorm.io/gorm"
)

// HandleCampaignTick advances one enrollment: it decides whether the next
// step is due, asks the send gate for capacity and, if granted, enqueues the
// actual send. Enrollments in a terminal state and paused campaigns make the
// tick a silent no-op, which is how cancellation works: scheduled jobs fire
// and do nothing instead of being actively revoked.
func (e *Engine) HandleCampaignTick(payload queue.Payload) (queue.Payload, error) {
	leadID := payload.Uint("campaign_lead_id")
	if leadID == 0 {
		return nil, queue.Permanent(fmt.Errorf("campaign tick without campaign_lead_id"))
	}

	var enrollment models.CampaignLead
	if err := e.db.First(&enrollment, leadID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, queue.Permanent(fmt.Errorf("enrollment %d not found", leadID))
		}
		return nil, fmt.Errorf("load enrollment %d: %w", leadID, err)
	}

	if enrollment.Status != models.LeadStatusActive {
		return queue.Payload{"skipped": "enrollment not active"}, nil
	}

	var campaign models.Campaign
	err := e.db.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order asc")
	}).First(&campaign, enrollment.CampaignID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, queue.Permanent(fmt.Errorf("campaign %d not found", enrollment.CampaignID))
		}
		return nil, fmt.Errorf("load campaign %d: %w", enrollment.CampaignID, err)
	}

	if campaign.Status != models.CampaignStatusActive {
		return queue.Payload{"skipped": "campaign not active"}, nil
	}

	now := time.Now()
	if enrollment.NextStepAt != nil && enrollment.NextStepAt.After(now) {
		return queue.Payload{"skipped": "not due yet"}, nil
	}

	// Sequence exhausted: the enrollment completes here, not in the send path
	if enrollment.CurrentStep >= len(campaign.Steps) {
		if err := e.db.Model(&models.CampaignLead{}).
			Where("id = ? AND status = ?", enrollment.ID, models.LeadStatusActive).
			Updates(map[string]interface{}{
				"status":       models.LeadStatusCompleted,
				"completed_at": now,
			}).Error; err != nil {
			return nil, fmt.Errorf("complete enrollment %d: %w", enrollment.ID, err)
		}
		return queue.Payload{"completed": true}, nil
	}

	if campaign.EmailAccountID == nil {
		return nil, queue.Permanent(fmt.Errorf("campaign %d has no sending account", campaign.ID))
	}

	if !withinSendingWindow(&campaign, now) {
		if err := e.ScheduleCampaignTick(enrollment.ID, now.Add(rescheduleDelay)); err != nil {
			return nil, fmt.Errorf("reschedule outside window: %w", err)
		}
		return queue.Payload{"skipped": "outside sending window"}, nil
	}

	reservation, err := e.TryReserve(*campaign.EmailAccountID)
	if err != nil {
		return nil, fmt.Errorf("send gate: %w", err)
	}
	if !reservation.Granted {
		// Capacity denial is not a failure: the enrollment stays active,
		// unchanged, and this same advance runs again shortly
		if err := e.ScheduleCampaignTick(enrollment.ID, now.Add(rescheduleDelay)); err != nil {
			return nil, fmt.Errorf("reschedule after denial: %w", err)
		}
		return queue.Payload{"denied": reservation.Reason}, nil
	}

	step := campaign.Steps[enrollment.CurrentStep]
	_, err = e.store.Enqueue(models.JobTypeSendStep, queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"campaign_id":      campaign.ID,
		"email_account_id": *campaign.EmailAccountID,
		"step_index":       enrollment.CurrentStep,
		"subject":          step.Subject,
		"body":             step.Body,
	}, queue.EnqueueOptions{RunAt: now})
	if err != nil {
		return nil, fmt.Errorf("enqueue send step: %w", err)
	}

	utils.LogEvent("step_send_scheduled", map[string]interface{}{
		"campaign_id":      campaign.ID,
		"campaign_lead_id": enrollment.ID,
		"step_index":       enrollment.CurrentStep,
	})
	return queue.Payload{"scheduled": true, "step_index": enrollment.CurrentStep}, nil
}

// withinSendingWindow checks the campaign's configured weekdays and hour range
// in its timezone.
func withinSendingWindow(campaign *models.Campaign, now time.Time) bool {
	loc, err := time.LoadLocation(campaign.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var days []int
	if err := json.Unmarshal([]byte(campaign.SendingDays), &days); err != nil || len(days) == 0 {
		days = []int{1, 2, 3, 4, 5}
	}

	dayOK := false
	for _, d := range days {
		if int(local.Weekday()) == d {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}

	hour := local.Hour()
	return hour >= campaign.SendingStartHour && hour < campaign.SendingEndHour
}
