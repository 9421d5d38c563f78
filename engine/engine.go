package engine

import (
	"fmt"
	"log"
	"time"

	"coldreach/models"
	"coldreach/queue"
	"coldreach/simulate"

	"gorm.io/gorm"
)

const (
	// rescheduleDelay is used whenever an advance cannot proceed yet
	// (capacity denied, outside the sending window).
	rescheduleDelay = 60 * time.Second

	// warmupInterval is the cadence of the self-rescheduling warmup tick.
	warmupInterval = 60 * time.Second
)

// Engine wires the sequence state machine, the send gate and the warm-up ramp
// to the job queue. All mutations of enrollment and account rows happen here.
type Engine struct {
	db     *gorm.DB
	store  *queue.Store
	sim    *simulate.Simulator
	logger *log.Logger
}

func New(db *gorm.DB, store *queue.Store, sim *simulate.Simulator, logger *log.Logger) *Engine {
	return &Engine{
		db:     db,
		store:  store,
		sim:    sim,
		logger: logger,
	}
}

// Register installs every engine handler on the runner. Exhaustive over the
// closed job type set.
func (e *Engine) Register(r *queue.Runner) {
	r.Register(models.JobTypeCampaignTick, e.HandleCampaignTick)
	r.Register(models.JobTypeSendStep, e.HandleSendStep)
	r.Register(models.JobTypeGenerateReply, e.HandleGenerateReply)
	r.Register(models.JobTypeWarmupTick, e.HandleWarmupTick)
	r.Register(models.JobTypeStatsRollup, e.HandleStatsRollup)
}

// ScheduleCampaignTick enqueues the advance job for one enrollment. The dedupe
// key keeps at most one pending tick per enrollment; the next tick in a chain
// is only ever created from inside the handler completing the previous step,
// never speculatively.
func (e *Engine) ScheduleCampaignTick(campaignLeadID uint, runAt time.Time) error {
	_, err := e.store.Enqueue(models.JobTypeCampaignTick,
		queue.Payload{"campaign_lead_id": campaignLeadID},
		queue.EnqueueOptions{
			RunAt:     runAt,
			DedupeKey: fmt.Sprintf("campaign_tick:lead:%d", campaignLeadID),
		})
	return err
}

// ScheduleWarmupTick enqueues the next warm-up tick for an account.
func (e *Engine) ScheduleWarmupTick(accountID uint, runAt time.Time) error {
	_, err := e.store.Enqueue(models.JobTypeWarmupTick,
		queue.Payload{"email_account_id": accountID},
		queue.EnqueueOptions{
			RunAt:     runAt,
			DedupeKey: fmt.Sprintf("warmup_tick:account:%d", accountID),
		})
	return err
}

// ScheduleStatsRollup enqueues a deduped stats recount for one campaign.
func (e *Engine) ScheduleStatsRollup(campaignID uint) error {
	_, err := e.store.Enqueue(models.JobTypeStatsRollup,
		queue.Payload{"campaign_id": campaignID},
		queue.EnqueueOptions{
			DedupeKey: fmt.Sprintf("stats_rollup:campaign:%d", campaignID),
		})
	return err
}

// ScheduleReplyGeneration enqueues the inbox-side reply with a short random
// delay, decoupling the statistical replied event from the message appearing
// in the inbox view.
func (e *Engine) ScheduleReplyGeneration(campaignLeadID uint) error {
	delay := e.sim.DurationBetween(30*time.Second, 90*time.Second)
	_, err := e.store.Enqueue(models.JobTypeGenerateReply,
		queue.Payload{"campaign_lead_id": campaignLeadID},
		queue.EnqueueOptions{RunAt: time.Now().Add(delay)})
	return err
}
