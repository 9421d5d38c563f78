package worker

import (
	"context"
	"log"
	"time"

	"coldreach/config"
	"coldreach/engine"
	"coldreach/models"
	"coldreach/queue"
	"coldreach/simulate"

	"gorm.io/gorm"
)

// Scheduler hosts the job runner and owns the boot-time seeding that keeps
// self-rescheduling chains alive across restarts.
type Scheduler struct {
	db     *gorm.DB
	runner *queue.Runner
	engine *engine.Engine
	logger *log.Logger
}

// NewScheduler builds the full processing side: job store, simulator, engine
// and runner, wired together from the loaded configuration.
func NewScheduler(db *gorm.DB, cfg config.SchedulerConfig, simCfg config.SimulationConfig, logger *log.Logger) *Scheduler {
	store := queue.NewStore(db, cfg.MaxRetries)

	sim := simulate.New(simulate.Rates{
		Delivery: simCfg.DeliveryRate,
		Open:     simCfg.OpenRate,
		Click:    simCfg.ClickRate,
		Reply:    simCfg.ReplyRate,
		Bounce:   simCfg.BounceRate,
		Spam:     simCfg.SpamRate,
	}, simCfg.Seed)

	eng := engine.New(db, store, sim, logger)

	runner := queue.NewRunner(store, queue.RunnerConfig{
		TickInterval: cfg.TickInterval,
		BatchSize:    cfg.BatchSize,
		RetryBackoff: cfg.RetryBackoff,
		StaleAfter:   cfg.StaleAfter,
	}, logger)
	eng.Register(runner)

	return &Scheduler{
		db:     db,
		runner: runner,
		engine: eng,
		logger: logger,
	}
}

// Engine exposes the wired engine for the HTTP layer.
func (s *Scheduler) Engine() *engine.Engine {
	return s.engine
}

// Start seeds restart-sensitive chains and runs the polling loop until the
// context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.seedWarmupTicks()
	s.seedCampaignTicks()
	s.runner.Start(ctx)
}

// seedCampaignTicks re-enqueues advances for active enrollments whose due
// time has passed. Pending jobs survive restarts on their own; this covers a
// crash in the gap between committing a step and scheduling its successor.
func (s *Scheduler) seedCampaignTicks() {
	var enrollments []models.CampaignLead
	err := s.db.
		Joins("JOIN campaigns ON campaigns.id = campaign_leads.campaign_id").
		Where("campaign_leads.status = ? AND campaigns.status = ? AND campaign_leads.next_step_at <= ?",
			models.LeadStatusActive, models.CampaignStatusActive, time.Now()).
		Find(&enrollments).Error
	if err != nil {
		s.logger.Printf("Failed to load due enrollments: %v", err)
		return
	}

	for _, enrollment := range enrollments {
		if err := s.engine.ScheduleCampaignTick(enrollment.ID, time.Now()); err != nil {
			s.logger.Printf("Failed to seed tick for enrollment %d: %v", enrollment.ID, err)
		}
	}
	if len(enrollments) > 0 {
		s.logger.Printf("Seeded campaign ticks for %d due enrollments", len(enrollments))
	}
}

// seedWarmupTicks re-enqueues the warm-up chain for every warmup-enabled
// account. The dedupe key makes this a no-op when a pending tick already
// exists, so a crash between ticks never drops an account out of its ramp.
func (s *Scheduler) seedWarmupTicks() {
	var accounts []models.EmailAccount
	err := s.db.
		Where("warmup_enabled = ? AND status = ?", true, models.AccountStatusConnected).
		Find(&accounts).Error
	if err != nil {
		s.logger.Printf("Failed to load warmup accounts: %v", err)
		return
	}

	for _, account := range accounts {
		if err := s.engine.ScheduleWarmupTick(account.ID, time.Now()); err != nil {
			s.logger.Printf("Failed to seed warmup tick for account %d: %v", account.ID, err)
		}
	}
	if len(accounts) > 0 {
		s.logger.Printf("Seeded warmup ticks for %d accounts", len(accounts))
	}
}
