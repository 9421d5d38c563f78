package models

import (
	"time"

	"gorm.io/gorm"
)

// CampaignStatus of the campaign itself, not of an enrollment.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused, CampaignStatusCompleted:
		return true
	}
	return false
}

// DelayUnit for the wait between sequence steps.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

func (u DelayUnit) Valid() bool {
	switch u {
	case DelayUnitMinutes, DelayUnitHours, DelayUnitDays:
		return true
	}
	return false
}

// Duration converts a delay amount in this unit to a time.Duration.
func (u DelayUnit) Duration(amount int) time.Duration {
	switch u {
	case DelayUnitMinutes:
		return time.Duration(amount) * time.Minute
	case DelayUnitHours:
		return time.Duration(amount) * time.Hour
	case DelayUnitDays:
		return time.Duration(amount) * 24 * time.Hour
	default:
		return time.Duration(amount) * time.Hour
	}
}

// Campaign represents an email campaign with an ordered sequence of steps
type Campaign struct {
	gorm.Model
	Name           string         `gorm:"not null" json:"name"`
	Status         CampaignStatus `gorm:"default:'draft';index" json:"status"`
	EmailAccountID *uint          `gorm:"index" json:"email_account_id"`

	// Stop policies applied after each send
	StopOnReply  bool `gorm:"default:true" json:"stop_on_reply"`
	StopOnBounce bool `gorm:"default:true" json:"stop_on_bounce"`

	// Sending window (days as JSON array of weekdays, 0=Sunday)
	SendingDays      string `gorm:"default:'[1,2,3,4,5]'" json:"sending_days"`
	SendingStartHour int    `gorm:"default:9" json:"sending_start_hour"`
	SendingEndHour   int    `gorm:"default:17" json:"sending_end_hour"`
	Timezone         string `gorm:"default:'UTC'" json:"timezone"`

	// Statistics (denormalized for performance; rebuilt by the stats rollup)
	TotalLeads     int `gorm:"default:0" json:"total_leads"`
	SentCount      int `gorm:"default:0" json:"sent_count"`
	DeliveredCount int `gorm:"default:0" json:"delivered_count"`
	OpenedCount    int `gorm:"default:0" json:"opened_count"`
	ClickedCount   int `gorm:"default:0" json:"clicked_count"`
	RepliedCount   int `gorm:"default:0" json:"replied_count"`
	BouncedCount   int `gorm:"default:0" json:"bounced_count"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Steps         []CampaignStep `gorm:"foreignKey:CampaignID" json:"steps,omitempty"`
	CampaignLeads []CampaignLead `gorm:"foreignKey:CampaignID" json:"campaign_leads,omitempty"`
	EmailAccount  *EmailAccount  `json:"email_account,omitempty"`
}

// CampaignStep is one email template plus its delay after the previous step.
// Steps are immutable once the campaign is active.
type CampaignStep struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	StepOrder   int       `gorm:"not null" json:"step_order"` // 0-based
	Subject     string    `gorm:"not null" json:"subject"`
	Body        string    `gorm:"type:text" json:"body"`
	DelayAmount int       `gorm:"default:1" json:"delay_amount"`
	DelayUnit   DelayUnit `gorm:"default:'days'" json:"delay_unit"`
}

// LeadStatus is the per-enrollment state. completed, replied and bounced are
// terminal: no further sends are ever scheduled for them.
type LeadStatus string

const (
	LeadStatusPending   LeadStatus = "pending"
	LeadStatusActive    LeadStatus = "active"
	LeadStatusCompleted LeadStatus = "completed"
	LeadStatusReplied   LeadStatus = "replied"
	LeadStatusBounced   LeadStatus = "bounced"
)

func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusPending, LeadStatusActive, LeadStatusCompleted,
		LeadStatusReplied, LeadStatusBounced:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s LeadStatus) Terminal() bool {
	switch s {
	case LeadStatusCompleted, LeadStatusReplied, LeadStatusBounced:
		return true
	case LeadStatusPending, LeadStatusActive:
		return false
	}
	return false
}

// CampaignLead is one lead's run through one campaign's sequence.
// CurrentStep is monotonically non-decreasing; it is only advanced by the
// send-step handler under a compare-and-swap update.
type CampaignLead struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	LeadID     uint `gorm:"not null;index" json:"lead_id"`

	Status      LeadStatus `gorm:"default:'pending';index" json:"status"`
	CurrentStep int        `gorm:"default:0" json:"current_step"` // 0 = not yet started

	NextStepAt  *time.Time `json:"next_step_at"`
	LastStepAt  *time.Time `json:"last_step_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Campaign Campaign `json:"-"`
	Lead     Lead     `json:"lead,omitempty"`
}
