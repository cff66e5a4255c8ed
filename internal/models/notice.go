package models

import (
	"fmt"
	"time"
)

// Ladder names one of the two escalating notification sequences.
type Ladder string

const (
	LadderUsage  Ladder = "usage"
	LadderExpiry Ladder = "expiry"
)

// Usage codes are percentages of the budget consumed.
const (
	UsageCode50 = 50
	UsageCode75 = 75
	UsageCode90 = 90
	UsageCode95 = 95
)

// Expiry codes are days remaining before the subscription expires.
const (
	ExpiryCode0  = 0
	ExpiryCode1  = 1
	ExpiryCode7  = 7
	ExpiryCode30 = 30
)

// NoticeKind is the category of an individual notification.
type NoticeKind string

const (
	NoticeNew    NoticeKind = "new"
	NoticeUpdate NoticeKind = "update"
	NoticeExpiry NoticeKind = "expiry"
	NoticeUsage  NoticeKind = "usage"
)

// Operator-facing labels.
const (
	LabelRegistered = "registered"
	LabelUpdated    = "updated"
	LabelCancelled  = "cancelled"
	LabelExpiresIn  = "expires in"
)

// UsageLabel renders the operator label of a usage notice.
func UsageLabel(code int) string {
	return fmt.Sprintf("utilisation ≥ %d%%", code)
}

// CursorAdvance is the write performed after a ladder notice was delivered.
type CursorAdvance struct {
	Ladder         Ladder
	SubscriptionID int64
	DetailID       int64
	Code           int
	SentAt         time.Time
}

// NoticeCounts aggregates notifications sent during one run.
type NoticeCounts struct {
	New    int `json:"new"`
	Update int `json:"update"`
	Expiry int `json:"expiry"`
	Usage  int `json:"usage"`
}

// Total returns the number of notifications sent.
func (c NoticeCounts) Total() int {
	return c.New + c.Update + c.Expiry + c.Usage
}

// SentNotice is a notice recorded on a snapshot, as listed in the digest.
type SentNotice struct {
	Kind             NoticeKind `json:"kind"`
	Label            string     `json:"label"`
	SubscriptionGUID string     `json:"subscription_guid"`
	SubscriptionName string     `json:"subscription_name"`
	SentAt           time.Time  `json:"sent_at"`
}
