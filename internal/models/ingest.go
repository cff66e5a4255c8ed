package models

import "time"

// Log codes.
const (
	LogCodeIngestSuccess = 0
	LogCodeSummarySent   = 1
)

// IngestLog is an append-only run marker.
type IngestLog struct {
	ID           int64     `db:"id" json:"id"`
	Code         int       `db:"code" json:"code"`
	TimestampUTC time.Time `db:"timestamp_utc" json:"timestamp_utc"`
}

// SubscriptionFailure records a subscription whose replay did not commit.
type SubscriptionFailure struct {
	GUID  string `json:"guid"`
	Error string `json:"error"`
}

// IngestResult is the outcome of one ingestion pass.
type IngestResult struct {
	New       []Detail              `json:"new"`
	Updated   []DetailPair          `json:"updated"`
	Inserted  int                   `json:"inserted"`
	Skipped   int                   `json:"skipped"`
	Failures  []SubscriptionFailure `json:"failures,omitempty"`
	Watermark *time.Time            `json:"watermark,omitempty"`

	Courses       map[string]int64 `json:"-"`
	Labs          map[LabKey]int64 `json:"-"`
	Subscriptions map[string]int64 `json:"-"`
}

// LabByID inverts the resolved lab dictionary.
func (r *IngestResult) LabByID(id int64) (LabKey, bool) {
	for key, labID := range r.Labs {
		if labID == id {
			return key, true
		}
	}
	return LabKey{}, false
}

// GUIDByID inverts the resolved subscription dictionary.
func (r *IngestResult) GUIDByID(id int64) (string, bool) {
	for guid, subID := range r.Subscriptions {
		if subID == id {
			return guid, true
		}
	}
	return "", false
}
