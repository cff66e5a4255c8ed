package models

import (
	"strings"
	"time"
)

// SubscriptionStatusCancelled is the status the crawler reports for cancelled subscriptions.
const SubscriptionStatusCancelled = "Canceled"

// IsCancelled compares case-insensitively against the cancelled status.
func IsCancelled(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), SubscriptionStatusCancelled)
}

// Subscription owns the authoritative notification cursor for both ladders.
type Subscription struct {
	ID               int64      `db:"id" json:"id"`
	GUID             string     `db:"guid" json:"guid"`
	ExpiryCode       *int       `db:"expiry_code" json:"expiry_code,omitempty"`
	ExpiryNoticeSent *time.Time `db:"expiry_notice_sent" json:"expiry_notice_sent,omitempty"`
	UsageCode        *int       `db:"usage_code" json:"usage_code,omitempty"`
	UsageNoticeSent  *time.Time `db:"usage_notice_sent" json:"usage_notice_sent,omitempty"`
	CreatedAt        time.Time  `db:"time_created" json:"time_created"`
}

// Cursor returns the recorded code for the ladder.
func (s Subscription) Cursor(ladder Ladder) *int {
	switch ladder {
	case LadderUsage:
		return s.UsageCode
	case LadderExpiry:
		return s.ExpiryCode
	default:
		return nil
	}
}
