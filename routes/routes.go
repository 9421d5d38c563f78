package routes

import (
	"log"
	"os"

	controller "coldreach/controllers"
	"coldreach/engine"
	"coldreach/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine) {
	// Initialize controllers with their respective loggers
	campaignController := controller.NewCampaignController(db, eng, log.New(os.Stdout, "CAMPAIGN: ", log.LstdFlags))
	leadController := controller.NewLeadController(db, log.New(os.Stdout, "LEAD: ", log.LstdFlags))
	accountController := controller.NewAccountController(db, eng, log.New(os.Stdout, "ACCOUNT: ", log.LstdFlags))
	inboxController := controller.NewInboxController(db, log.New(os.Stdout, "INBOX: ", log.LstdFlags))

	// API group with versioning
	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Campaign routes
	campaign := api.Group("/campaigns")
	campaign.Post("/", campaignController.CreateCampaign)
	campaign.Get("/", campaignController.GetCampaigns)
	campaign.Get("/:id", campaignController.GetCampaign)
	campaign.Post("/:id/start", middleware.CampaignStartLimiter(), campaignController.StartCampaign)
	campaign.Post("/:id/pause", campaignController.PauseCampaign)
	campaign.Get("/:id/events", campaignController.GetCampaignEvents)
	campaign.Post("/:id/leads", leadController.EnrollLeads)

	// Lead routes
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Get("/", leadController.GetLeads)

	// Sending account routes
	account := api.Group("/accounts")
	account.Post("/", accountController.CreateAccount)
	account.Get("/", accountController.GetAccounts)
	account.Put("/:id/limits", accountController.UpdateLimits)
	account.Put("/:id/connection", accountController.SetConnection)
	account.Put("/:id/warmup", accountController.SetWarmup)
	account.Get("/:id/warmup/stats", accountController.GetWarmupStats)

	// Inbox routes
	inbox := api.Group("/inbox")
	inbox.Get("/threads", inboxController.GetThreads)
	inbox.Get("/threads/:id", inboxController.GetThread)
	inbox.Post("/threads/:id/read", inboxController.MarkThreadRead)

	// WebSocket route for the live event stream
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(controller.HandleEventStreamWS))
}
