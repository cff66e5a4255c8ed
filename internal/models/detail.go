package models

import "time"

// SnapshotData is one crawled observation of a subscription. It is never modified after insert.
type SnapshotData struct {
	SubscriptionID         int64     `db:"sub_id" json:"sub_id"`
	LabID                  int64     `db:"lab_id" json:"lab_id"`
	HandoutName            string    `db:"handout_name" json:"handout_name"`
	HandoutStatus          string    `db:"handout_status" json:"handout_status"`
	HandoutBudget          float64   `db:"handout_budget" json:"handout_budget"`
	HandoutConsumed        float64   `db:"handout_consumed" json:"handout_consumed"`
	SubscriptionName       string    `db:"subscription_name" json:"subscription_name"`
	SubscriptionStatus     string    `db:"subscription_status" json:"subscription_status"`
	SubscriptionExpiryDate time.Time `db:"subscription_expiry_date" json:"subscription_expiry_date"`
	SubscriptionUsers      string    `db:"subscription_users" json:"subscription_users"`
	TimestampUTC           time.Time `db:"timestamp_utc" json:"timestamp_utc"`
}

// Cancelled reports whether the snapshot shows a cancelled subscription.
func (s SnapshotData) Cancelled() bool {
	return IsCancelled(s.SubscriptionStatus)
}

// NotificationRecord holds the flags and notice timestamps of a snapshot.
// Only the notification state machine mutates these after insert.
type NotificationRecord struct {
	NewFlag          bool       `db:"new_flag" json:"new_flag"`
	NewNoticeSent    *time.Time `db:"new_notice_sent" json:"new_notice_sent,omitempty"`
	UpdateFlag       bool       `db:"update_flag" json:"update_flag"`
	UpdateNoticeSent *time.Time `db:"update_notice_sent" json:"update_notice_sent,omitempty"`
	ExpiryCode       *int       `db:"expiry_code" json:"expiry_code,omitempty"`
	ExpiryNoticeSent *time.Time `db:"expiry_notice_sent" json:"expiry_notice_sent,omitempty"`
	UsageCode        *int       `db:"usage_code" json:"usage_code,omitempty"`
	UsageNoticeSent  *time.Time `db:"usage_notice_sent" json:"usage_notice_sent,omitempty"`
}

// Detail is a stored snapshot with its notification record.
type Detail struct {
	ID int64 `db:"id" json:"id"`
	SnapshotData
	NotificationRecord
}

// DetailPair is the (baseline, current) state of an updated subscription.
type DetailPair struct {
	Previous Detail `json:"previous"`
	Current  Detail `json:"current"`
}
