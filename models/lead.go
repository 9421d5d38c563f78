package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead represents a single contact
type Lead struct {
	gorm.Model
	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`

	LastContact *time.Time `json:"last_contact"`

	// Relations
	Enrollments []CampaignLead `gorm:"foreignKey:LeadID" json:"enrollments,omitempty"`
}

// DisplayName is the name used when rendering simulated replies.
func (l *Lead) DisplayName() string {
	if l.FirstName != "" {
		return l.FirstName
	}
	if l.Company != "" {
		return l.Company
	}
	return "There"
}
