package engine

import (
	"fmt"
	"time"

	"coldreach/models"

	"gorm.io/gorm"
)

// Reservation is the outcome of asking the send gate for one sending slot.
// A denial is normal control flow, not an error.
type Reservation struct {
	Granted bool
	Reason  string
}

// TryReserve consumes one sending slot on the account, or explains why it
// can't. The reservation itself is a single conditional compare-and-increment
// UPDATE, so two concurrent callers can never both squeeze past a ceiling with
// one slot left: the database accepts exactly one of them.
func (e *Engine) TryReserve(accountID uint) (Reservation, error) {
	var account models.EmailAccount
	if err := e.db.First(&account, accountID).Error; err != nil {
		return Reservation{}, fmt.Errorf("load account %d: %w", accountID, err)
	}

	if account.Status != models.AccountStatusConnected {
		return Reservation{Reason: "account not connected"}, nil
	}

	now := time.Now()

	// Roll the hourly window. The anchor guard makes the reset idempotent
	// under concurrency: only one caller moves the window.
	if err := e.db.Model(&models.EmailAccount{}).
		Where("id = ? AND hour_window_start <= ?", accountID, now.Add(-time.Hour)).
		Updates(map[string]interface{}{
			"sent_this_hour":    0,
			"hour_window_start": now,
		}).Error; err != nil {
		return Reservation{}, fmt.Errorf("reset hourly window: %w", err)
	}

	// Same for the daily window
	if err := e.db.Model(&models.EmailAccount{}).
		Where("id = ? AND day_window_start <= ?", accountID, now.Add(-24*time.Hour)).
		Updates(map[string]interface{}{
			"sent_today":       0,
			"day_window_start": now,
		}).Error; err != nil {
		return Reservation{}, fmt.Errorf("reset daily window: %w", err)
	}

	res := e.db.Model(&models.EmailAccount{}).
		Where("id = ? AND status = ? AND sent_this_hour < max_per_hour AND sent_today < max_per_day",
			accountID, models.AccountStatusConnected).
		Updates(map[string]interface{}{
			"sent_this_hour": gorm.Expr("sent_this_hour + ?", 1),
			"sent_today":     gorm.Expr("sent_today + ?", 1),
			"last_sent_at":   now,
		})
	if res.Error != nil {
		return Reservation{}, fmt.Errorf("reserve slot: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return Reservation{Granted: true}, nil
	}

	// Reload to name the ceiling that denied us
	if err := e.db.First(&account, accountID).Error; err != nil {
		return Reservation{}, fmt.Errorf("reload account %d: %w", accountID, err)
	}
	switch {
	case account.Status != models.AccountStatusConnected:
		return Reservation{Reason: "account not connected"}, nil
	case account.SentThisHour >= account.MaxPerHour:
		return Reservation{Reason: "hourly limit reached"}, nil
	case account.SentToday >= account.MaxPerDay:
		return Reservation{Reason: "daily limit reached"}, nil
	default:
		return Reservation{Reason: "no capacity"}, nil
	}
}
