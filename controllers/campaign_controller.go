package controller

import (
	"log"
	"time"

	"coldreach/engine"
	"coldreach/models"
	"coldreach/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var validate = validator.New()

type CampaignController struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *log.Logger
}

func NewCampaignController(db *gorm.DB, eng *engine.Engine, logger *log.Logger) *CampaignController {
	return &CampaignController{
		DB:     db,
		Engine: eng,
		Logger: logger,
	}
}

type campaignStepInput struct {
	Subject     string `json:"subject" validate:"required"`
	Body        string `json:"body"`
	DelayAmount int    `json:"delay_amount" validate:"min=0"`
	DelayUnit   string `json:"delay_unit"`
}

type createCampaignInput struct {
	Name             string              `json:"name" validate:"required"`
	EmailAccountID   *uint               `json:"email_account_id"`
	StopOnReply      *bool               `json:"stop_on_reply"`
	StopOnBounce     *bool               `json:"stop_on_bounce"`
	SendingDays      string              `json:"sending_days"`
	SendingStartHour *int                `json:"sending_start_hour"`
	SendingEndHour   *int                `json:"sending_end_hour"`
	Timezone         string              `json:"timezone"`
	Steps            []campaignStepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateCampaign creates a draft campaign together with its ordered steps.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	var input createCampaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	campaign := models.Campaign{
		Name:           input.Name,
		Status:         models.CampaignStatusDraft,
		EmailAccountID: input.EmailAccountID,
		StopOnReply:    true,
		StopOnBounce:   true,
	}
	if input.StopOnReply != nil {
		campaign.StopOnReply = *input.StopOnReply
	}
	if input.StopOnBounce != nil {
		campaign.StopOnBounce = *input.StopOnBounce
	}
	if input.SendingDays != "" {
		campaign.SendingDays = input.SendingDays
	}
	if input.SendingStartHour != nil {
		campaign.SendingStartHour = *input.SendingStartHour
	}
	if input.SendingEndHour != nil {
		campaign.SendingEndHour = *input.SendingEndHour
	}
	if input.Timezone != "" {
		campaign.Timezone = input.Timezone
	}

	tx := cc.DB.Begin()

	if err := tx.Create(&campaign).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	for i, stepInput := range input.Steps {
		unit := models.DelayUnit(stepInput.DelayUnit)
		if !unit.Valid() {
			unit = models.DelayUnitDays
		}
		step := models.CampaignStep{
			CampaignID:  campaign.ID,
			StepOrder:   i,
			Subject:     stepInput.Subject,
			Body:        stepInput.Body,
			DelayAmount: stepInput.DelayAmount,
			DelayUnit:   unit,
		}
		if err := tx.Create(&step).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create campaign step",
			})
		}
	}

	tx.Commit()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Campaign created successfully",
		"campaign": campaign,
	})
}

// GetCampaigns returns all campaigns, newest first.
func (cc *CampaignController) GetCampaigns(c *fiber.Ctx) error {
	var campaigns []models.Campaign
	if err := cc.DB.Order("created_at desc").Find(&campaigns).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch campaigns",
		})
	}
	return c.JSON(campaigns)
}

// GetCampaign returns one campaign with its steps and enrollment breakdown.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	err := cc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order asc")
	}).First(&campaign, campaignID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Campaign not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch campaign",
		})
	}

	type statusRow struct {
		Status models.LeadStatus
		Total  int64
	}
	var rows []statusRow
	cc.DB.Model(&models.CampaignLead{}).
		Select("status, COUNT(*) AS total").
		Where("campaign_id = ?", campaign.ID).
		Group("status").
		Scan(&rows)

	byStatus := fiber.Map{}
	for _, r := range rows {
		byStatus[string(r.Status)] = r.Total
	}

	return c.JSON(fiber.Map{
		"campaign":        campaign,
		"leads_by_status": byStatus,
	})
}

// StartCampaign activates the campaign and seeds the first advance job for
// every pending enrollment. Restarting a paused campaign re-seeds ticks; the
// dedupe key makes that safe to call repeatedly.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.Preload("Steps").First(&campaign, campaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Campaign not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch campaign",
		})
	}

	if campaign.Status == models.CampaignStatusCompleted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Campaign is already completed",
		})
	}
	if len(campaign.Steps) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign has no steps",
		})
	}
	if campaign.EmailAccountID == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign has no sending account",
		})
	}

	now := time.Now()
	updates := map[string]interface{}{"status": models.CampaignStatusActive}
	if campaign.StartedAt == nil {
		updates["started_at"] = now
	}
	if err := cc.DB.Model(&campaign).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start campaign",
		})
	}

	// Move pending enrollments to active and give them an immediate due time.
	if err := cc.DB.Model(&models.CampaignLead{}).
		Where("campaign_id = ? AND status = ?", campaign.ID, models.LeadStatusPending).
		Updates(map[string]interface{}{
			"status":       models.LeadStatusActive,
			"next_step_at": now,
		}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to activate enrollments",
		})
	}

	var enrollments []models.CampaignLead
	if err := cc.DB.Where("campaign_id = ? AND status = ?", campaign.ID, models.LeadStatusActive).
		Find(&enrollments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load enrollments",
		})
	}

	scheduled := 0
	for _, enrollment := range enrollments {
		runAt := now
		if enrollment.NextStepAt != nil && enrollment.NextStepAt.After(now) {
			runAt = *enrollment.NextStepAt
		}
		if err := cc.Engine.ScheduleCampaignTick(enrollment.ID, runAt); err != nil {
			utils.LogError("campaign_start_schedule", err, map[string]interface{}{
				"campaign_id":      campaign.ID,
				"campaign_lead_id": enrollment.ID,
			})
			continue
		}
		scheduled++
	}

	utils.LogEvent("campaign_started", map[string]interface{}{
		"campaign_id": campaign.ID,
		"scheduled":   scheduled,
	})

	return c.JSON(fiber.Map{
		"message":   "Campaign started",
		"scheduled": scheduled,
	})
}

// PauseCampaign stops further advances. In-flight jobs observe the paused
// status and no-op, so no job cleanup is needed.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	result := cc.DB.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignStatusActive).
		Update("status", models.CampaignStatusPaused)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to pause campaign",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Campaign is not active",
		})
	}

	return c.JSON(fiber.Map{"message": "Campaign paused"})
}

// GetCampaignEvents lists the campaign's event log, newest first. Optional
// since/until query params (RFC 3339) narrow the time range.
func (cc *CampaignController) GetCampaignEvents(c *fiber.Ctx) error {
	campaignID := c.Params("id")
	limit := c.QueryInt("limit", 100)
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := cc.DB.
		Joins("JOIN campaign_leads ON campaign_leads.id = email_events.campaign_lead_id").
		Where("campaign_leads.campaign_id = ?", campaignID)

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "since must be RFC 3339",
			})
		}
		query = query.Where("email_events.occurred_at >= ?", since)
	}
	if raw := c.Query("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "until must be RFC 3339",
			})
		}
		query = query.Where("email_events.occurred_at <= ?", until)
	}

	var events []models.EmailEvent
	err := query.
		Order("email_events.occurred_at desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch events",
		})
	}

	return c.JSON(events)
}
