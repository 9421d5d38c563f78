package models

import (
	"time"

	"gorm.io/gorm"
)

// ThreadCategory classifies a simulated reply.
type ThreadCategory string

const (
	CategoryInterested    ThreadCategory = "interested"
	CategoryNotInterested ThreadCategory = "not_interested"
	CategoryOOO           ThreadCategory = "ooo"
	CategoryNeutral       ThreadCategory = "neutral"
	CategoryBounce        ThreadCategory = "bounce"
	CategorySpam          ThreadCategory = "spam"
)

func (c ThreadCategory) Valid() bool {
	switch c {
	case CategoryInterested, CategoryNotInterested, CategoryOOO,
		CategoryNeutral, CategoryBounce, CategorySpam:
		return true
	}
	return false
}

// Label is the human-readable form shown in the inbox view.
func (c ThreadCategory) Label() string {
	switch c {
	case CategoryInterested:
		return "Interested"
	case CategoryNotInterested:
		return "Not Interested"
	case CategoryOOO:
		return "Out of Office"
	case CategoryNeutral:
		return "Neutral"
	case CategoryBounce:
		return "Bounce"
	case CategorySpam:
		return "Spam/Complaint"
	}
	return string(c)
}

// MessageDirection of an inbox message.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// EmailThread is a conversation in the simulated inbox, created when the
// outcome model produces a reply for an enrollment.
type EmailThread struct {
	gorm.Model
	EmailAccountID uint  `gorm:"not null;index" json:"email_account_id"`
	CampaignID     *uint `gorm:"index" json:"campaign_id"`
	CampaignLeadID *uint `gorm:"index" json:"campaign_lead_id"`

	Subject       string         `gorm:"not null" json:"subject"`
	LeadEmail     string         `gorm:"not null;index" json:"lead_email"`
	LeadName      string         `json:"lead_name"`
	Category      ThreadCategory `gorm:"not null;index" json:"category"`
	Unread        bool           `gorm:"default:true" json:"unread"`
	LastMessageAt time.Time      `gorm:"not null;index" json:"last_message_at"`

	// Relations
	Messages []EmailMessage `gorm:"foreignKey:ThreadID" json:"messages,omitempty"`
}

// EmailMessage is one message inside a thread.
type EmailMessage struct {
	gorm.Model
	ThreadID uint `gorm:"not null;index" json:"thread_id"`

	MessageID string           `gorm:"not null;index" json:"message_id"`
	Direction MessageDirection `gorm:"not null" json:"direction"`
	FromEmail string           `gorm:"not null" json:"from_email"`
	ToEmail   string           `gorm:"not null" json:"to_email"`
	Subject   string           `json:"subject"`
	Body      string           `gorm:"type:text" json:"body"`
	SentAt    time.Time        `gorm:"not null" json:"sent_at"`
}
