package service

import (
	"time"

	"github.com/noah-isme/edunotice/internal/models"
)

// UsageCode maps consumed/budget to the usage ladder. A zero budget counts as zero utilisation.
func UsageCode(budget, consumed float64) (int, bool) {
	var u float64
	if budget > 0 {
		u = consumed / budget
	}
	switch {
	case u >= 0.95:
		return models.UsageCode95, true
	case u >= 0.90:
		return models.UsageCode90, true
	case u >= 0.75:
		return models.UsageCode75, true
	case u >= 0.50:
		return models.UsageCode50, true
	default:
		return 0, false
	}
}

// ExpiryCode maps the whole days between today and the expiry date to the expiry ladder.
func ExpiryCode(expiry, today time.Time) (int, bool) {
	days := DaysUntil(expiry, today)
	switch {
	case days < 1:
		return models.ExpiryCode0, true
	case days == 1:
		return models.ExpiryCode1, true
	case days <= 7:
		return models.ExpiryCode7, true
	case days <= 30:
		return models.ExpiryCode30, true
	default:
		return 0, false
	}
}

// DaysUntil counts calendar days from today to expiry, ignoring time of day.
func DaysUntil(expiry, today time.Time) int {
	return int(civilDate(expiry).Sub(civilDate(today)).Hours() / 24)
}

// MoreUrgent reports whether candidate escalates past the recorded code. A nil record is
// the least urgent state. Usage escalates upwards; expiry counts down.
func MoreUrgent(ladder models.Ladder, candidate int, recorded *int) bool {
	if recorded == nil {
		return true
	}
	switch ladder {
	case models.LadderUsage:
		return candidate > *recorded
	case models.LadderExpiry:
		return candidate < *recorded
	default:
		return false
	}
}

// Candidate computes the ladder code for a snapshot.
func Candidate(ladder models.Ladder, snap models.SnapshotData, today time.Time) (int, bool) {
	switch ladder {
	case models.LadderUsage:
		return UsageCode(snap.HandoutBudget, snap.HandoutConsumed)
	case models.LadderExpiry:
		return ExpiryCode(snap.SubscriptionExpiryDate, today)
	default:
		return 0, false
	}
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDate(a, b time.Time) bool {
	return civilDate(a).Equal(civilDate(b))
}
