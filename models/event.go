package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailEventType of a simulated delivery outcome.
type EmailEventType string

const (
	EventSent      EmailEventType = "sent"
	EventDelivered EmailEventType = "delivered"
	EventOpened    EmailEventType = "opened"
	EventClicked   EmailEventType = "clicked"
	EventReplied   EmailEventType = "replied"
	EventBounced   EmailEventType = "bounced"
	EventSpam      EmailEventType = "spam"
)

func (t EmailEventType) Valid() bool {
	switch t {
	case EventSent, EventDelivered, EventOpened, EventClicked,
		EventReplied, EventBounced, EventSpam:
		return true
	}
	return false
}

// EmailEvent is an immutable delivery fact. Rows are append-only: the engine
// inserts them when a send is simulated and nothing ever updates them.
type EmailEvent struct {
	gorm.Model
	CampaignLeadID uint `gorm:"not null;index" json:"campaign_lead_id"`

	Type       EmailEventType `gorm:"not null;index" json:"type"`
	StepNumber int            `gorm:"not null" json:"step_number"` // 1-based
	OccurredAt time.Time      `gorm:"not null;index" json:"occurred_at"`
	Metadata   string         `gorm:"type:text" json:"metadata"` // JSON

	// Relations
	CampaignLead CampaignLead `json:"-"`
}
