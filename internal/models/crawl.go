package models

import "time"

// Column headers of a crawl output file.
const (
	ColumnCourseName         = "Course name"
	ColumnLabName            = "Lab name"
	ColumnHandoutName        = "Handout name"
	ColumnHandoutBudget      = "Handout budget"
	ColumnHandoutConsumed    = "Handout consumed"
	ColumnHandoutStatus      = "Handout status"
	ColumnSubscriptionID     = "Subscription id"
	ColumnSubscriptionName   = "Subscription name"
	ColumnSubscriptionStatus = "Subscription status"
	ColumnSubscriptionExpiry = "Subscription expiry date"
	ColumnSubscriptionUsers  = "Subscription users"
	ColumnCrawlTimeUTC       = "Crawl time utc"
)

// RequiredColumns lists every column a crawl batch must carry.
var RequiredColumns = []string{
	ColumnCourseName,
	ColumnLabName,
	ColumnHandoutName,
	ColumnHandoutBudget,
	ColumnHandoutConsumed,
	ColumnHandoutStatus,
	ColumnSubscriptionID,
	ColumnSubscriptionName,
	ColumnSubscriptionStatus,
	ColumnSubscriptionExpiry,
	ColumnSubscriptionUsers,
	ColumnCrawlTimeUTC,
}

// CrawlRow is one parsed row of crawler output.
type CrawlRow struct {
	CourseName         string `validate:"required"`
	LabName            string `validate:"required"`
	HandoutName        string
	HandoutBudget      float64 `validate:"gte=0"`
	HandoutConsumed    float64 `validate:"gte=0"`
	HandoutStatus      string
	SubscriptionID     string `validate:"required"`
	SubscriptionName   string
	SubscriptionStatus string
	ExpiryDate         time.Time `validate:"required"`
	Users              string
	CrawlTimeUTC       time.Time `validate:"required"`
}

// CrawlBatch is an in-memory batch with the columns it was built from.
type CrawlBatch struct {
	Columns []string
	Rows    []CrawlRow
}
