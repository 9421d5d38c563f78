package engine

import (
	"errors"
	"testing"
	"time"

	"coldreach/models"
	"coldreach/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCampaignTickSchedulesSendWhenCapacityGranted(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	result, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.NoError(t, err)
	assert.Equal(t, true, result["scheduled"])

	jobs := pendingJobs(t, db, models.JobTypeSendStep)
	require.Len(t, jobs, 1)

	payload, err := queue.DecodePayload(jobs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, enrollment.ID, payload.Uint("campaign_lead_id"))
	assert.Equal(t, 0, payload.Int("step_index"))
	assert.Equal(t, "Quick question", payload.String("subject"))

	// The reservation was consumed up front
	var reloaded models.EmailAccount
	require.NoError(t, db.First(&reloaded, account.ID).Error)
	assert.Equal(t, 1, reloaded.SentThisHour)
}

func TestCampaignTickReschedulesWhenCapacityDenied(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	// Exhaust the hourly budget
	require.NoError(t, db.Model(&models.EmailAccount{}).
		Where("id = ?", account.ID).
		Update("sent_this_hour", 10).Error)

	result, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.NoError(t, err)
	assert.Equal(t, "hourly limit reached", result["denied"])

	// No send was scheduled; the same advance is queued to retry shortly
	assert.Empty(t, pendingJobs(t, db, models.JobTypeSendStep))
	retries := pendingJobs(t, db, models.JobTypeCampaignTick)
	require.Len(t, retries, 1)
	assert.True(t, retries[0].RunAt.After(time.Now().Add(30*time.Second)))

	// The enrollment is untouched
	var reloaded models.CampaignLead
	require.NoError(t, db.First(&reloaded, enrollment.ID).Error)
	assert.Equal(t, models.LeadStatusActive, reloaded.Status)
	assert.Equal(t, 0, reloaded.CurrentStep)
}

func TestTwoEnrollmentsOneSlot(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 1, 100)
	campaign := createCampaign(t, db, account.ID, 1)
	first := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)
	second := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	resultA, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": first.ID})
	require.NoError(t, err)
	resultB, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": second.ID})
	require.NoError(t, err)

	// One advance gets the hour's only slot, the other is pushed back
	assert.Equal(t, true, resultA["scheduled"])
	assert.Equal(t, "hourly limit reached", resultB["denied"])
	assert.Len(t, pendingJobs(t, db, models.JobTypeSendStep), 1)
	assert.Len(t, pendingJobs(t, db, models.JobTypeCampaignTick), 1)
}

func TestCampaignTickNoOpsForPausedCampaign(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	require.NoError(t, db.Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).
		Update("status", models.CampaignStatusPaused).Error)

	result, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.NoError(t, err)
	assert.Equal(t, "campaign not active", result["skipped"])
	assert.Empty(t, pendingJobs(t, db, models.JobTypeSendStep))
	assert.Empty(t, pendingJobs(t, db, models.JobTypeCampaignTick))
}

func TestCampaignTickNoOpsForTerminalEnrollment(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusReplied)

	result, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.NoError(t, err)
	assert.Equal(t, "enrollment not active", result["skipped"])
}

func TestCampaignTickCompletesExhaustedSequence(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	require.NoError(t, db.Model(&models.CampaignLead{}).
		Where("id = ?", enrollment.ID).
		Update("current_step", 2).Error)

	result, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.NoError(t, err)
	assert.Equal(t, true, result["completed"])

	var reloaded models.CampaignLead
	require.NoError(t, db.First(&reloaded, enrollment.ID).Error)
	assert.Equal(t, models.LeadStatusCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)
}

func TestCampaignTickExhaustedSequenceRetriesOnStoreError(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	require.NoError(t, db.Model(&models.CampaignLead{}).
		Where("id = ?", enrollment.ID).
		Update("current_step", 2).Error)

	// Make the completion UPDATE fail so the job goes back to the retry path
	// instead of being acked while the enrollment is still active.
	require.NoError(t, db.Callback().Update().Before("gorm:update").
		Register("enrollment_update_outage", func(d *gorm.DB) {
			if d.Statement.Table == "campaign_leads" {
				d.AddError(errors.New("database is locked"))
			}
		}))

	_, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))

	var reloaded models.CampaignLead
	require.NoError(t, db.First(&reloaded, enrollment.ID).Error)
	assert.Equal(t, models.LeadStatusActive, reloaded.Status)

	// Once the store recovers, the retried job completes the enrollment.
	require.NoError(t, db.Callback().Update().Remove("enrollment_update_outage"))
	result, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.NoError(t, err)
	assert.Equal(t, true, result["completed"])
}

func TestCampaignTickMissingEnrollmentIsPermanent(t *testing.T) {
	eng, _, _ := setupTest(t, ratesAlwaysDeliver)

	_, err := eng.HandleCampaignTick(queue.Payload{"campaign_lead_id": uint(999)})
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}

func TestSendStepAdvancesAndChainsNextTick(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	result, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)
	assert.Equal(t, true, result["sent"])

	var reloaded models.CampaignLead
	require.NoError(t, db.First(&reloaded, enrollment.ID).Error)
	assert.Equal(t, models.LeadStatusActive, reloaded.Status)
	assert.Equal(t, 1, reloaded.CurrentStep)
	require.NotNil(t, reloaded.NextStepAt)

	// Step 2 waits out its configured delay (2 days)
	expected := time.Now().Add(48 * time.Hour)
	assert.WithinDuration(t, expected, *reloaded.NextStepAt, time.Minute)

	// Events: sent then delivered, in causal order
	var events []models.EmailEvent
	require.NoError(t, db.Where("campaign_lead_id = ?", enrollment.ID).
		Order("id asc").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventSent, events[0].Type)
	assert.Equal(t, models.EventDelivered, events[1].Type)
	assert.Equal(t, 1, events[0].StepNumber)

	// The next advance is queued for the step's due time
	ticks := pendingJobs(t, db, models.JobTypeCampaignTick)
	require.Len(t, ticks, 1)
	assert.WithinDuration(t, *reloaded.NextStepAt, ticks[0].RunAt, time.Second)

	// Counters moved
	var reloadedCampaign models.Campaign
	require.NoError(t, db.First(&reloadedCampaign, campaign.ID).Error)
	assert.Equal(t, 1, reloadedCampaign.SentCount)
	assert.Equal(t, 1, reloadedCampaign.DeliveredCount)
}

func TestSendStepReplyStopsSequence(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysReply)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 3)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)

	var reloaded models.CampaignLead
	require.NoError(t, db.First(&reloaded, enrollment.ID).Error)
	assert.Equal(t, models.LeadStatusReplied, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)
	assert.Nil(t, reloaded.NextStepAt)

	// No further advance; the reply generation job is queued instead
	assert.Empty(t, pendingJobs(t, db, models.JobTypeCampaignTick))
	assert.Len(t, pendingJobs(t, db, models.JobTypeGenerateReply), 1)
	assert.Len(t, pendingJobs(t, db, models.JobTypeStatsRollup), 1)
}

func TestSendStepReplyContinuesWhenStopOnReplyOff(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysReply)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	require.NoError(t, db.Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).
		Update("stop_on_reply", false).Error)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)

	var reloaded models.CampaignLead
	require.NoError(t, db.First(&reloaded, enrollment.ID).Error)
	assert.Equal(t, models.LeadStatusActive, reloaded.Status)
	assert.Equal(t, 1, reloaded.CurrentStep)

	// Sequence keeps going and the reply still lands in the inbox pipeline
	assert.Len(t, pendingJobs(t, db, models.JobTypeCampaignTick), 1)
	assert.Len(t, pendingJobs(t, db, models.JobTypeGenerateReply), 1)
}

func TestSendStepBounceStopsSequence(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysBounce)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 3)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)

	var reloaded models.CampaignLead
	require.NoError(t, db.First(&reloaded, enrollment.ID).Error)
	assert.Equal(t, models.LeadStatusBounced, reloaded.Status)
	assert.Empty(t, pendingJobs(t, db, models.JobTypeCampaignTick))
}

func TestSendStepSpamAlwaysHalts(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysSpam)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 3)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	// Spam halts even with both stop policies off
	require.NoError(t, db.Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).
		Updates(map[string]interface{}{"stop_on_reply": false, "stop_on_bounce": false}).Error)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)

	var reloaded models.CampaignLead
	require.NoError(t, db.First(&reloaded, enrollment.ID).Error)
	assert.Equal(t, models.LeadStatusCompleted, reloaded.Status)
	assert.Empty(t, pendingJobs(t, db, models.JobTypeCampaignTick))
}

func TestSendStepRedeliveryIsIdempotent(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	payload := queue.Payload{"campaign_lead_id": enrollment.ID, "step_index": 0}

	_, err := eng.HandleSendStep(payload)
	require.NoError(t, err)

	// Redelivered job: the compare-and-swap no longer matches
	result, err := eng.HandleSendStep(payload)
	require.NoError(t, err)
	assert.Equal(t, "preconditions no longer hold", result["skipped"])

	// Exactly one set of events and one counter bump
	var eventCount int64
	db.Model(&models.EmailEvent{}).Where("campaign_lead_id = ?", enrollment.ID).Count(&eventCount)
	assert.Equal(t, int64(2), eventCount)

	var reloadedCampaign models.Campaign
	require.NoError(t, db.First(&reloadedCampaign, campaign.ID).Error)
	assert.Equal(t, 1, reloadedCampaign.SentCount)
}

func TestSendStepLastStepCompletesEnrollment(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 1)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)

	var reloaded models.CampaignLead
	require.NoError(t, db.First(&reloaded, enrollment.ID).Error)
	assert.Equal(t, models.LeadStatusCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)
	assert.Empty(t, pendingJobs(t, db, models.JobTypeCampaignTick))
}

func TestSendStepBadStepIndexIsPermanent(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 1)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       5,
	})
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}

func TestGenerateReplyCreatesInboxThread(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysReply)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)

	_, err = eng.HandleGenerateReply(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.NoError(t, err)

	var thread models.EmailThread
	require.NoError(t, db.Where("campaign_lead_id = ?", enrollment.ID).First(&thread).Error)
	assert.Equal(t, account.ID, thread.EmailAccountID)
	assert.Equal(t, "Re: Quick question", thread.Subject)
	assert.Equal(t, "lead@prospect.com", thread.LeadEmail)
	assert.True(t, thread.Unread)
	assert.True(t, thread.Category.Valid())

	var message models.EmailMessage
	require.NoError(t, db.Where("thread_id = ?", thread.ID).First(&message).Error)
	assert.Equal(t, models.DirectionInbound, message.Direction)
	assert.Equal(t, "lead@prospect.com", message.FromEmail)
	assert.Equal(t, "sender@example.com", message.ToEmail)
	assert.NotEmpty(t, message.MessageID)
	assert.NotEmpty(t, message.Body)

	// The reply category matches what the send rolled
	var event models.EmailEvent
	require.NoError(t, db.
		Where("campaign_lead_id = ? AND type = ?", enrollment.ID, models.EventReplied).
		First(&event).Error)
	assert.Contains(t, event.Metadata, string(thread.Category))
}

func TestGenerateReplyRedeliveryIsIdempotent(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysReply)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)

	result, err := eng.HandleGenerateReply(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.NoError(t, err)
	assert.Equal(t, true, result["generated"])

	// A reclaimed copy of the same job must not duplicate the conversation
	result, err = eng.HandleGenerateReply(queue.Payload{"campaign_lead_id": enrollment.ID})
	require.NoError(t, err)
	assert.Equal(t, "reply already materialized", result["skipped"])

	var threads, messages int64
	require.NoError(t, db.Model(&models.EmailThread{}).
		Where("campaign_lead_id = ?", enrollment.ID).Count(&threads).Error)
	require.NoError(t, db.Model(&models.EmailMessage{}).Count(&messages).Error)
	assert.EqualValues(t, 1, threads)
	assert.EqualValues(t, 1, messages)
}

func TestStatsRollupRebuildsCountersFromEvents(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysDeliver)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 2)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)

	// Drift the denormalized counters; the rollup must correct them
	require.NoError(t, db.Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).
		Updates(map[string]interface{}{"sent_count": 99, "delivered_count": 99}).Error)

	_, err = eng.HandleStatsRollup(queue.Payload{"campaign_id": campaign.ID})
	require.NoError(t, err)

	var reloaded models.Campaign
	require.NoError(t, db.First(&reloaded, campaign.ID).Error)
	assert.Equal(t, 1, reloaded.SentCount)
	assert.Equal(t, 1, reloaded.DeliveredCount)
	assert.Equal(t, 1, reloaded.TotalLeads)
	assert.Zero(t, reloaded.BouncedCount)
}

func TestStatsRollupUpdatesAccountHealth(t *testing.T) {
	eng, db, _ := setupTest(t, ratesAlwaysBounce)
	account := createAccount(t, db, 10, 100)
	campaign := createCampaign(t, db, account.ID, 1)
	enrollment := createEnrollment(t, db, campaign.ID, models.LeadStatusActive)

	_, err := eng.HandleSendStep(queue.Payload{
		"campaign_lead_id": enrollment.ID,
		"step_index":       0,
	})
	require.NoError(t, err)

	_, err = eng.HandleStatsRollup(queue.Payload{"campaign_id": campaign.ID})
	require.NoError(t, err)

	// One send, one bounce: bounce rate 1.0 floors the health score
	var reloaded models.EmailAccount
	require.NoError(t, db.First(&reloaded, account.ID).Error)
	assert.Equal(t, 1.0, reloaded.BounceRate)
	assert.Zero(t, reloaded.SpamRate)
	assert.Zero(t, reloaded.HealthScore)
}
