package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coldreach/models"
	"coldreach/queue"
	"coldreach/simulate"
	"coldreach/utils"

	"gorm.io/gorm"
)

// errAlreadyApplied aborts the send-step transaction when the enrollment's
// preconditions no longer hold. The redelivered job becomes a silent no-op
// and nothing is persisted.
var errAlreadyApplied = errors.New("step transition already applied")

// HandleSendStep simulates the actual send and applies the resulting state
// transition exactly once. The transition is a compare-and-swap on
// (status=active, current_step=expected) inside the same transaction that
// persists the events and counters, so at-least-once job delivery still
// yields an exactly-once effect.
func (e *Engine) HandleSendStep(payload queue.Payload) (queue.Payload, error) {
	leadID := payload.Uint("campaign_lead_id")
	stepIndex := payload.Int("step_index")
	if leadID == 0 {
		return nil, queue.Permanent(fmt.Errorf("send step without campaign_lead_id"))
	}

	var enrollment models.CampaignLead
	if err := e.db.First(&enrollment, leadID).Error; err != nil {
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
		if err == gorm.ErrRecordNotFound {
			return nil, queue.Permanent(fmt.Errorf("campaign %d not found", enrollment.CampaignID))
		}
		return nil, fmt.Errorf("load campaign %d: %w", enrollment.CampaignID, err)
	}

	// A step index past the sequence cannot self-heal: fail immediately
	// instead of retrying
	if stepIndex < 0 || stepIndex >= len(campaign.Steps) {
		return nil, queue.Permanent(fmt.Errorf("campaign %d has no step %d", campaign.ID, stepIndex))
	}

	// Replay guard, checked again under the transaction below
	if enrollment.Status != models.LeadStatusActive || enrollment.CurrentStep != stepIndex {
		return queue.Payload{"skipped": "preconditions no longer hold"}, nil
	}

	now := time.Now()
	result := e.sim.Send(now)

	newStatus, nextStepAt := nextTransition(&campaign, result, stepIndex, now)

	txErr := e.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":       newStatus,
			"current_step": stepIndex + 1,
			"last_step_at": now,
			"next_step_at": nextStepAt,
		}
		if newStatus.Terminal() {
			updates["completed_at"] = now
		}

		res := tx.Model(&models.CampaignLead{}).
			Where("id = ? AND status = ? AND current_step = ?",
				enrollment.ID, models.LeadStatusActive, stepIndex).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("advance enrollment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errAlreadyApplied
		}

		for _, ev := range result.Events {
			metadata := ""
			if len(ev.Metadata) > 0 {
				b, err := json.Marshal(ev.Metadata)
				if err != nil {
					return fmt.Errorf("encode event metadata: %w", err)
				}
				metadata = string(b)
			}
			event := models.EmailEvent{
				CampaignLeadID: enrollment.ID,
				Type:           ev.Type,
				StepNumber:     stepIndex + 1,
				OccurredAt:     ev.OccurredAt,
				Metadata:       metadata,
			}
			if err := tx.Create(&event).Error; err != nil {
				return fmt.Errorf("insert %s event: %w", ev.Type, err)
			}
		}

		counters := map[string]interface{}{
			"sent_count": gorm.Expr("sent_count + ?", 1),
		}
		if result.Has(models.EventDelivered) {
			counters["delivered_count"] = gorm.Expr("delivered_count + ?", 1)
		}
		if result.Has(models.EventOpened) {
			counters["opened_count"] = gorm.Expr("opened_count + ?", 1)
		}
		if result.Has(models.EventClicked) {
			counters["clicked_count"] = gorm.Expr("clicked_count + ?", 1)
		}
		if result.Has(models.EventReplied) {
			counters["replied_count"] = gorm.Expr("replied_count + ?", 1)
		}
		if result.Has(models.EventBounced) {
			counters["bounced_count"] = gorm.Expr("bounced_count + ?", 1)
		}
		if err := tx.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Updates(counters).Error; err != nil {
			return fmt.Errorf("bump campaign counters: %w", err)
		}

		if err := tx.Model(&models.Lead{}).
			Where("id = ?", enrollment.LeadID).
			Update("last_contact", now).Error; err != nil {
			return fmt.Errorf("touch lead: %w", err)
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, errAlreadyApplied) {
			return queue.Payload{"skipped": "already applied"}, nil
		}
		return nil, txErr
	}

	// Chaining happens after commit: the next advance is only ever created
	// from inside the handler that completed the previous step
	if newStatus == models.LeadStatusActive && nextStepAt != nil {
		if err := e.ScheduleCampaignTick(enrollment.ID, *nextStepAt); err != nil {
			return nil, fmt.Errorf("schedule next advance: %w", err)
		}
	}

	if result.HasReply {
		if err := e.ScheduleReplyGeneration(enrollment.ID); err != nil {
			return nil, fmt.Errorf("schedule reply generation: %w", err)
		}
	}

	if err := e.ScheduleStatsRollup(campaign.ID); err != nil {
		return nil, fmt.Errorf("schedule stats rollup: %w", err)
	}

	utils.LogEvent("step_sent", map[string]interface{}{
		"campaign_id":      campaign.ID,
		"campaign_lead_id": enrollment.ID,
		"step_number":      stepIndex + 1,
		"new_status":       string(newStatus),
		"events":           len(result.Events),
	})
	return queue.Payload{
		"sent":   true,
		"events": len(result.Events),
		"status": string(newStatus),
	}, nil
}

// nextTransition applies the stop rules in priority order: bounce policy,
// reply policy, spam (always halts), then normal progression.
func nextTransition(campaign *models.Campaign, result simulate.Result, stepIndex int, now time.Time) (models.LeadStatus, *time.Time) {
	switch {
	case result.Has(models.EventBounced) && campaign.StopOnBounce:
		return models.LeadStatusBounced, nil
	case result.Has(models.EventReplied) && campaign.StopOnReply:
		return models.LeadStatusReplied, nil
	case result.Has(models.EventSpam):
		// Spam halts the sequence regardless of policy
		return models.LeadStatusCompleted, nil
	}

	next := stepIndex + 1
	if next < len(campaign.Steps) {
		nextStep := campaign.Steps[next]
		due := now.Add(nextStep.DelayUnit.Duration(nextStep.DelayAmount))
		return models.LeadStatusActive, &due
	}
	return models.LeadStatusCompleted, nil
}
