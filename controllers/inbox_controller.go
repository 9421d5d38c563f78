package controller

import (
	"log"

	"coldreach/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type InboxController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewInboxController(db *gorm.DB, logger *log.Logger) *InboxController {
	return &InboxController{
		DB:     db,
		Logger: logger,
	}
}

// threadView decorates a thread with the display form of its category.
type threadView struct {
	models.EmailThread
	CategoryLabel string `json:"category_label"`
}

func newThreadView(thread models.EmailThread) threadView {
	return threadView{
		EmailThread:   thread,
		CategoryLabel: thread.Category.Label(),
	}
}

// GetThreads lists inbox threads, optionally filtered by account, campaign or
// category, newest activity first.
func (ic *InboxController) GetThreads(c *fiber.Ctx) error {
	query := ic.DB.Model(&models.EmailThread{})

	if accountID := c.QueryInt("email_account_id"); accountID > 0 {
		query = query.Where("email_account_id = ?", accountID)
	}
	if campaignID := c.QueryInt("campaign_id"); campaignID > 0 {
		query = query.Where("campaign_id = ?", campaignID)
	}
	if category := models.ThreadCategory(c.Query("category")); category != "" {
		if !category.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown category",
			})
		}
		query = query.Where("category = ?", category)
	}
	if c.QueryBool("unread") {
		query = query.Where("unread = ?", true)
	}

	var threads []models.EmailThread
	if err := query.Order("last_message_at desc").Find(&threads).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch threads",
		})
	}

	views := make([]threadView, 0, len(threads))
	for _, thread := range threads {
		views = append(views, newThreadView(thread))
	}

	return c.JSON(views)
}

// GetThread returns one thread with its messages in chronological order.
func (ic *InboxController) GetThread(c *fiber.Ctx) error {
	threadID := c.Params("id")

	var thread models.EmailThread
	if err := ic.DB.First(&thread, threadID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Thread not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch thread",
		})
	}

	var messages []models.EmailMessage
	if err := ic.DB.Where("thread_id = ?", thread.ID).
		Order("sent_at asc").
		Find(&messages).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch messages",
		})
	}

	return c.JSON(fiber.Map{
		"thread":   newThreadView(thread),
		"messages": messages,
	})
}

// MarkThreadRead clears the unread flag.
func (ic *InboxController) MarkThreadRead(c *fiber.Ctx) error {
	threadID := c.Params("id")

	result := ic.DB.Model(&models.EmailThread{}).
		Where("id = ?", threadID).
		Update("unread", false)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update thread",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Thread not found",
		})
	}

	return c.JSON(fiber.Map{"message": "Thread marked read"})
}
