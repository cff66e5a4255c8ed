package service

import "github.com/noah-isme/edunotice/internal/models"

// ChangeKind classifies the delta between two consecutive snapshots.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeFields
	ChangeBudget
	ChangeExpiry
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeFields:
		return "changed-fields"
	case ChangeBudget:
		return "budget-changed"
	case ChangeExpiry:
		return "expiry-changed"
	default:
		return "unchanged"
	}
}

// DetailsChanged reports whether any field that warrants an update notice differs.
// Consumption is left out; it moves on every crawl and only feeds the usage ladder.
func DetailsChanged(prev, curr models.SnapshotData) bool {
	return prev.HandoutStatus != curr.HandoutStatus ||
		prev.SubscriptionName != curr.SubscriptionName ||
		prev.SubscriptionStatus != curr.SubscriptionStatus ||
		ExpiryChanged(prev, curr) ||
		BudgetChanged(prev, curr) ||
		prev.SubscriptionUsers != curr.SubscriptionUsers
}

// BudgetChanged reports whether the handout budget differs.
func BudgetChanged(prev, curr models.SnapshotData) bool {
	return prev.HandoutBudget != curr.HandoutBudget
}

// ExpiryChanged reports whether the expiry date differs.
func ExpiryChanged(prev, curr models.SnapshotData) bool {
	return !sameDate(prev.SubscriptionExpiryDate, curr.SubscriptionExpiryDate)
}

// Classify returns every kind of change between prev and curr.
func Classify(prev, curr models.SnapshotData) []ChangeKind {
	var kinds []ChangeKind
	if DetailsChanged(prev, curr) {
		kinds = append(kinds, ChangeFields)
	}
	if BudgetChanged(prev, curr) {
		kinds = append(kinds, ChangeBudget)
	}
	if ExpiryChanged(prev, curr) {
		kinds = append(kinds, ChangeExpiry)
	}
	if len(kinds) == 0 {
		kinds = append(kinds, ChangeNone)
	}
	return kinds
}
