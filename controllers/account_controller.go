package controller

import (
	"log"
	"time"

	"coldreach/engine"
	"coldreach/models"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AccountController struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *log.Logger
}

func NewAccountController(db *gorm.DB, eng *engine.Engine, logger *log.Logger) *AccountController {
	return &AccountController{
		DB:     db,
		Engine: eng,
		Logger: logger,
	}
}

type createAccountInput struct {
	Email      string `json:"email" validate:"required"`
	Name       string `json:"name" validate:"required"`
	MaxPerHour *int   `json:"max_per_hour"`
	MaxPerDay  *int   `json:"max_per_day"`
}

// CreateAccount registers a sending account with fresh rate windows.
func (ac *AccountController) CreateAccount(c *fiber.Ctx) error {
	var input createAccountInput
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

	now := time.Now()
	account := models.EmailAccount{
		Email:           input.Email,
		Name:            input.Name,
		Status:          models.AccountStatusConnected,
		MaxPerHour:      50,
		MaxPerDay:       500,
		HourWindowStart: now,
		DayWindowStart:  now,
		HealthScore:     100,
	}
	if input.MaxPerHour != nil && *input.MaxPerHour > 0 {
		account.MaxPerHour = *input.MaxPerHour
	}
	if input.MaxPerDay != nil && *input.MaxPerDay > 0 {
		account.MaxPerDay = *input.MaxPerDay
	}

	if err := ac.DB.Create(&account).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create account",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(account)
}

// GetAccounts lists sending accounts with their warmup settings.
func (ac *AccountController) GetAccounts(c *fiber.Ctx) error {
	var accounts []models.EmailAccount
	if err := ac.DB.Preload("WarmupSettings").Find(&accounts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch accounts",
		})
	}
	return c.JSON(accounts)
}

type updateLimitsInput struct {
	MaxPerHour *int `json:"max_per_hour"`
	MaxPerDay  *int `json:"max_per_day"`
}

// UpdateLimits changes the sending ceilings. Counters are untouched; tightened
// ceilings take effect on the very next reservation.
func (ac *AccountController) UpdateLimits(c *fiber.Ctx) error {
	accountID := c.Params("id")

	var input updateLimitsInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updates := map[string]interface{}{}
	if input.MaxPerHour != nil && *input.MaxPerHour > 0 {
		updates["max_per_hour"] = *input.MaxPerHour
	}
	if input.MaxPerDay != nil && *input.MaxPerDay > 0 {
		updates["max_per_day"] = *input.MaxPerDay
	}
	if len(updates) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Nothing to update",
		})
	}

	result := ac.DB.Model(&models.EmailAccount{}).Where("id = ?", accountID).Updates(updates)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update limits",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	return c.JSON(fiber.Map{"message": "Limits updated"})
}

// SetConnection toggles the account between connected and disconnected.
// Disconnected accounts are denied by the send gate and skipped by warm-up.
func (ac *AccountController) SetConnection(c *fiber.Ctx) error {
	accountID := c.Params("id")

	var input struct {
		Status models.AccountStatus `json:"status"`
	}
	if err := c.BodyParser(&input); err != nil || !input.Status.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "status must be connected or disconnected",
		})
	}

	result := ac.DB.Model(&models.EmailAccount{}).
		Where("id = ?", accountID).
		Update("status", input.Status)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update account",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	return c.JSON(fiber.Map{"message": "Account updated"})
}

type warmupInput struct {
	Enabled       bool `json:"enabled"`
	RampIncrement *int `json:"ramp_increment"`
	MaxDailyLimit *int `json:"max_daily_limit"`
}

// SetWarmup enables or disables the warm-up ramp for an account. Enabling
// creates the settings row on first use and seeds the tick chain; disabling
// leaves the ramp state in place so re-enabling resumes where it stopped.
func (ac *AccountController) SetWarmup(c *fiber.Ctx) error {
	accountID := c.Params("id")

	var account models.EmailAccount
	if err := ac.DB.First(&account, accountID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Account not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch account",
		})
	}

	var input warmupInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var settings models.WarmupSettings
	err := ac.DB.Where("email_account_id = ?", account.ID).First(&settings).Error
	if err == gorm.ErrRecordNotFound {
		settings = models.WarmupSettings{
			EmailAccountID: account.ID,
			Enabled:        input.Enabled,
			CurrentDay:     1,
			DailyTarget:    5,
			RampIncrement:  3,
			MaxDailyLimit:  50,
			LastResetAt:    time.Now(),
		}
		if input.RampIncrement != nil && *input.RampIncrement > 0 {
			settings.RampIncrement = *input.RampIncrement
		}
		if input.MaxDailyLimit != nil && *input.MaxDailyLimit > 0 {
			settings.MaxDailyLimit = *input.MaxDailyLimit
		}
		if err := ac.DB.Create(&settings).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create warmup settings",
			})
		}
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch warmup settings",
		})
	} else {
		updates := map[string]interface{}{"enabled": input.Enabled}
		if input.RampIncrement != nil && *input.RampIncrement > 0 {
			updates["ramp_increment"] = *input.RampIncrement
		}
		if input.MaxDailyLimit != nil && *input.MaxDailyLimit > 0 {
			updates["max_daily_limit"] = *input.MaxDailyLimit
		}
		if err := ac.DB.Model(&settings).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update warmup settings",
			})
		}
	}

	if err := ac.DB.Model(&account).Update("warmup_enabled", input.Enabled).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update account",
		})
	}

	if input.Enabled {
		if err := ac.Engine.ScheduleWarmupTick(account.ID, time.Now()); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to schedule warmup",
			})
		}
	}

	return c.JSON(fiber.Map{
		"message":  "Warmup settings updated",
		"settings": settings,
	})
}

// GetWarmupStats reports the ramp position and account health.
func (ac *AccountController) GetWarmupStats(c *fiber.Ctx) error {
	accountID := c.Params("id")

	var account models.EmailAccount
	if err := ac.DB.Preload("WarmupSettings").First(&account, accountID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Account not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch account",
		})
	}

	resp := fiber.Map{
		"email_account_id": account.ID,
		"warmup_enabled":   account.WarmupEnabled,
		"health_score":     account.HealthScore,
		"bounce_rate":      account.BounceRate,
		"spam_rate":        account.SpamRate,
		"sent_today":       account.SentToday,
	}
	if account.WarmupSettings != nil {
		resp["current_day"] = account.WarmupSettings.CurrentDay
		resp["daily_target"] = account.WarmupSettings.DailyTarget
		resp["warmup_sent_today"] = account.WarmupSettings.SentToday
		resp["days_until_max"] = account.WarmupSettings.DaysUntilMax()
	}

	return c.JSON(resp)
}
