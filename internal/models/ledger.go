package models

import "time"

// Ledger reason tags. The ledger is advisory: credits_balance on the account
// row stays authoritative, but every balance-affecting path writes an entry
// in the same transaction so the two cannot silently diverge.
const (
	ReasonGumroadPurchase = "gumroad_purchase"
	ReasonTrialGrant      = "trial_grant"
	ReasonGeneration      = "generation"
	ReasonAdminCredit     = "admin_credit"
	ReasonCreditsExpired  = "credits_expired"
)

// CreditLedgerEntry is one append-only row per balance-affecting operation.
type CreditLedgerEntry struct {
	ID        int       `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Delta     int64     `json:"delta" db:"delta"`
	Reason    string    `json:"reason" db:"reason"`
	Ref       string    `json:"ref" db:"ref"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
