package controller

import (
	"log"

	"coldreach/models"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type LeadController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewLeadController(db *gorm.DB, logger *log.Logger) *LeadController {
	return &LeadController{
		DB:     db,
		Logger: logger,
	}
}

type createLeadInput struct {
	Email     string `json:"email" validate:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
}

// CreateLead registers a lead after validating the address format.
func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	var input createLeadInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	lead := models.Lead{
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Company:   input.Company,
		Position:  input.Position,
	}
	if err := lc.DB.Create(&lead).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create lead",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(lead)
}

// GetLeads lists leads, newest first.
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	var leads []models.Lead
	if err := lc.DB.Order("created_at desc").Find(&leads).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch leads",
		})
	}
	return c.JSON(leads)
}

type enrollLeadsInput struct {
	LeadIDs []uint `json:"lead_ids" validate:"required,min=1"`
}

// EnrollLeads attaches leads to a campaign as pending enrollments. Leads
// already enrolled are skipped so the endpoint is safe to retry.
func (lc *LeadController) EnrollLeads(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := lc.DB.First(&campaign, campaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Campaign not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch campaign",
		})
	}

	var input enrollLeadsInput
	if err := c.BodyParser(&input); err != nil || len(input.LeadIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "lead_ids is required",
		})
	}

	enrolled := 0
	skipped := 0
	for _, leadID := range input.LeadIDs {
		var lead models.Lead
		if err := lc.DB.First(&lead, leadID).Error; err != nil {
			skipped++
			continue
		}

		var existing int64
		lc.DB.Model(&models.CampaignLead{}).
			Where("campaign_id = ? AND lead_id = ?", campaign.ID, leadID).
			Count(&existing)
		if existing > 0 {
			skipped++
			continue
		}

		enrollment := models.CampaignLead{
			CampaignID: campaign.ID,
			LeadID:     leadID,
			Status:     models.LeadStatusPending,
		}
		if err := lc.DB.Create(&enrollment).Error; err != nil {
			skipped++
			continue
		}
		enrolled++
	}

	lc.DB.Model(&campaign).
		Update("total_leads", gorm.Expr("total_leads + ?", enrolled))

	return c.JSON(fiber.Map{
		"message":  "Leads enrolled",
		"enrolled": enrolled,
		"skipped":  skipped,
	})
}
