package engine

import (
	"fmt"
	"time"

	"coldreach/models"
	"coldreach/queue"
	"coldreach/utils"

	"gorm.io/gorm"
)

// HandleWarmupTick runs the warm-up ramp for one account. Each tick sends a
// small burst toward the day's target; once every 24 hours the target ramps up
// by the configured increment until it saturates at the max daily limit.
// Warm-up traffic consumes the account's daily budget but not the hourly one,
// so a warming account still has hourly headroom for campaign sends.
func (e *Engine) HandleWarmupTick(payload queue.Payload) (queue.Payload, error) {
	accountID := payload.Uint("email_account_id")
	if accountID == 0 {
		return nil, queue.Permanent(fmt.Errorf("warmup tick without email_account_id"))
	}

	var account models.EmailAccount
	if err := e.db.First(&account, accountID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, queue.Permanent(fmt.Errorf("account %d not found", accountID))
		}
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}

	var settings models.WarmupSettings
	if err := e.db.Where("email_account_id = ?", accountID).First(&settings).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, queue.Permanent(fmt.Errorf("account %d has no warmup settings", accountID))
		}
		return nil, fmt.Errorf("load warmup settings: %w", err)
	}

	// Disabled warm-up stops the chain; re-enabling re-seeds the tick.
	if !account.WarmupEnabled || !settings.Enabled || account.Status != models.AccountStatusConnected {
		return queue.Payload{"skipped": "warmup disabled"}, nil
	}

	now := time.Now()

	// Daily rollover: raise the target and reset the day's counter. The
	// rollover tick itself sends nothing; the next tick works against the
	// fresh budget.
	if now.Sub(settings.LastResetAt) >= 24*time.Hour {
		target := settings.DailyTarget + settings.RampIncrement
		if target > settings.MaxDailyLimit {
			target = settings.MaxDailyLimit
		}
		updates := map[string]interface{}{
			"current_day":   settings.CurrentDay + 1,
			"daily_target":  target,
			"sent_today":    0,
			"last_reset_at": now,
		}
		if err := e.db.Model(&settings).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("warmup rollover: %w", err)
		}
		if err := e.ScheduleWarmupTick(account.ID, now.Add(warmupInterval)); err != nil {
			return nil, fmt.Errorf("reschedule warmup: %w", err)
		}
		return queue.Payload{"sent": 0, "daily_target": target}, nil
	}

	sent := 0
	if remaining := settings.DailyTarget - settings.SentToday; remaining > 0 {
		burst := e.sim.IntBetween(1, 3)
		if burst > remaining {
			burst = remaining
		}

		err := e.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.WarmupSettings{}).
				Where("id = ? AND sent_today = ?", settings.ID, settings.SentToday).
				Update("sent_today", gorm.Expr("sent_today + ?", burst))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Another tick got here first; skip this burst.
				return nil
			}
			sent = burst

			// Warm-up counts against the daily budget only.
			return tx.Model(&models.EmailAccount{}).
				Where("id = ?", account.ID).
				Updates(map[string]interface{}{
					"sent_today":   gorm.Expr("sent_today + ?", burst),
					"last_sent_at": now,
				}).Error
		})
		if err != nil {
			return nil, fmt.Errorf("warmup burst: %w", err)
		}

		if sent > 0 {
			utils.LogEvent("warmup_sent", map[string]interface{}{
				"email_account_id": account.ID,
				"sent":             sent,
				"daily_target":     settings.DailyTarget,
			})
		}
	}

	// Warm-up is a standing loop while enabled.
	if err := e.ScheduleWarmupTick(account.ID, now.Add(warmupInterval)); err != nil {
		return nil, fmt.Errorf("reschedule warmup: %w", err)
	}

	return queue.Payload{"sent": sent, "daily_target": settings.DailyTarget}, nil
}
