package models

import (
	"time"

	"gorm.io/gorm"
)

// AccountStatus of a sending account's connection.
type AccountStatus string

const (
	AccountStatusConnected    AccountStatus = "connected"
	AccountStatusDisconnected AccountStatus = "disconnected"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusConnected, AccountStatusDisconnected:
		return true
	}
	return false
}

// EmailAccount is the shared, rate-limited sending resource. The hourly and
// daily counters are only ever moved by the send gate's atomic
// compare-and-increment and by the window resets, so they never exceed the
// ceilings no matter how many enrollments share the account.
type EmailAccount struct {
	gorm.Model
	Email  string        `gorm:"not null;index" json:"email"`
	Name   string        `gorm:"not null" json:"name"`
	Status AccountStatus `gorm:"default:'connected';index" json:"status"`

	// Capacity counters and ceilings
	SentThisHour int `gorm:"default:0" json:"sent_this_hour"`
	SentToday    int `gorm:"default:0" json:"sent_today"`
	MaxPerHour   int `gorm:"default:50" json:"max_per_hour"`
	MaxPerDay    int `gorm:"default:500" json:"max_per_day"`

	// Window anchors; counters reset when now crosses the anchor by a full
	// window length
	HourWindowStart time.Time `gorm:"not null" json:"hour_window_start"`
	DayWindowStart  time.Time `gorm:"not null" json:"day_window_start"`

	LastSentAt *time.Time `json:"last_sent_at"`

	// Health metrics (derived by the stats rollup)
	HealthScore int     `gorm:"default:100" json:"health_score"`
	BounceRate  float64 `gorm:"default:0" json:"bounce_rate"`
	SpamRate    float64 `gorm:"default:0" json:"spam_rate"`

	WarmupEnabled bool `gorm:"default:false" json:"warmup_enabled"`

	// Relations
	WarmupSettings *WarmupSettings `gorm:"foreignKey:EmailAccountID" json:"warmup_settings,omitempty"`
	Campaigns      []Campaign      `gorm:"foreignKey:EmailAccountID" json:"campaigns,omitempty"`
}

// WarmupSettings holds the ramp state for one warmup-enabled account.
// DailyTarget never decreases and saturates at MaxDailyLimit.
type WarmupSettings struct {
	gorm.Model
	EmailAccountID uint `gorm:"not null;uniqueIndex" json:"email_account_id"`

	Enabled       bool `gorm:"default:true" json:"enabled"`
	CurrentDay    int  `gorm:"default:1" json:"current_day"`
	DailyTarget   int  `gorm:"default:5" json:"daily_target"`
	RampIncrement int  `gorm:"default:3" json:"ramp_increment"`
	MaxDailyLimit int  `gorm:"default:50" json:"max_daily_limit"`
	SentToday     int  `gorm:"default:0" json:"sent_today"`

	LastResetAt time.Time `gorm:"not null" json:"last_reset_at"`
}

// DaysUntilMax estimates how many daily resets remain before the ramp
// saturates.
func (w *WarmupSettings) DaysUntilMax() int {
	if w.RampIncrement <= 0 || w.DailyTarget >= w.MaxDailyLimit {
		return 0
	}
	remaining := w.MaxDailyLimit - w.DailyTarget
	days := remaining / w.RampIncrement
	if remaining%w.RampIncrement != 0 {
		days++
	}
	return days
}
