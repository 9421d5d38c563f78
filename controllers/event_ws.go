package controller

import (
	"log"
	"time"

	"coldreach/config"
	"coldreach/models"

	"github.com/gofiber/websocket/v2"
)

// HandleEventStreamWS streams a campaign's email events as they land. The
// client sends {"campaign_id": N} once; the server then pushes batches of new
// events on a short poll of the event log.
func HandleEventStreamWS(c *websocket.Conn) {
	defer c.Close()

	var input struct {
		CampaignID uint `json:"campaign_id"`
	}

	if err := c.ReadJSON(&input); err != nil {
		log.Printf("Error reading JSON: %v", err)
		return
	}
	if input.CampaignID == 0 {
		_ = c.WriteJSON(map[string]string{"error": "campaign_id is required"})
		return
	}

	// The client sends nothing after the handshake; this read only returns
	// when the connection drops, so a quiet campaign still frees its poller.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var lastID uint
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
		}

		var events []models.EmailEvent
		err := config.DB.
			Joins("JOIN campaign_leads ON campaign_leads.id = email_events.campaign_lead_id").
			Where("campaign_leads.campaign_id = ? AND email_events.id > ?", input.CampaignID, lastID).
			Order("email_events.id asc").
			Limit(100).
			Find(&events).Error
		if err != nil {
			log.Printf("Error loading events: %v", err)
			return
		}

		if len(events) == 0 {
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		for _, event := range events {
			if err := c.WriteJSON(event); err != nil {
				log.Printf("Error writing JSON: %v", err)
				return
			}
			lastID = event.ID
		}
	}
}
