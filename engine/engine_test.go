package engine

import (
	"io"
	"log"
	"testing"
	"time"

	"coldreach/config"
	"coldreach/models"
	"coldreach/queue"
	"coldreach/simulate"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// deterministic outcome profiles used across the engine tests
var (
	ratesAlwaysDeliver = simulate.Rates{Delivery: 1}
	ratesAlwaysReply   = simulate.Rates{Delivery: 1, Open: 1, Reply: 1}
	ratesAlwaysBounce  = simulate.Rates{Bounce: 1}
	ratesAlwaysSpam    = simulate.Rates{Spam: 1}
)

func setupTest(t *testing.T, rates simulate.Rates) (*Engine, *gorm.DB, *queue.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A fresh connection would see an empty in-memory database
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.MigrateDB(db))

	store := queue.NewStore(db, 3)
	sim := simulate.New(rates, 1)
	eng := New(db, store, sim, log.New(io.Discard, "", 0))
	return eng, db, store
}

func createAccount(t *testing.T, db *gorm.DB, maxPerHour, maxPerDay int) *models.EmailAccount {
	t.Helper()

	now := time.Now()
	account := models.EmailAccount{
		Email:           "sender@example.com",
		Name:            "Alex Sender",
		Status:          models.AccountStatusConnected,
		MaxPerHour:      maxPerHour,
		MaxPerDay:       maxPerDay,
		HourWindowStart: now,
		DayWindowStart:  now,
		HealthScore:     100,
	}
	require.NoError(t, db.Create(&account).Error)
	return &account
}

// createCampaign builds an active campaign with an always-open sending window
// so tests exercise the state machine, not the calendar.
func createCampaign(t *testing.T, db *gorm.DB, accountID uint, steps int) *models.Campaign {
	t.Helper()

	campaign := models.Campaign{
		Name:             "Q3 Outreach",
		Status:           models.CampaignStatusActive,
		EmailAccountID:   &accountID,
		StopOnReply:      true,
		StopOnBounce:     true,
		SendingDays:      "[0,1,2,3,4,5,6]",
		SendingStartHour: 0,
		SendingEndHour:   24,
		Timezone:         "UTC",
	}
	require.NoError(t, db.Create(&campaign).Error)

	for i := 0; i < steps; i++ {
		step := models.CampaignStep{
			CampaignID:  campaign.ID,
			StepOrder:   i,
			Subject:     "Quick question",
			Body:        "Hi {{firstName}}, checking in.",
			DelayAmount: 2,
			DelayUnit:   models.DelayUnitDays,
		}
		require.NoError(t, db.Create(&step).Error)
	}
	return &campaign
}

func createEnrollment(t *testing.T, db *gorm.DB, campaignID uint, status models.LeadStatus) *models.CampaignLead {
	t.Helper()

	lead := models.Lead{
		Email:     "lead@prospect.com",
		FirstName: "Jordan",
		Company:   "Prospect Inc",
	}
	require.NoError(t, db.Create(&lead).Error)

	now := time.Now().Add(-time.Minute)
	enrollment := models.CampaignLead{
		CampaignID: campaignID,
		LeadID:     lead.ID,
		Status:     status,
		NextStepAt: &now,
	}
	require.NoError(t, db.Create(&enrollment).Error)
	return &enrollment
}

func pendingJobs(t *testing.T, db *gorm.DB, jobType models.JobType) []models.Job {
	t.Helper()

	var jobs []models.Job
	require.NoError(t, db.
		Where("type = ? AND status = ?", jobType, models.JobStatusPending).
		Find(&jobs).Error)
	return jobs
}
