package models

import "time"

// Plan codes a purchase can assign to an account.
const (
	PlanBasic    = "basic"
	PlanStandard = "standard"
	PlanPremium  = "premium"
)

// Account is one row per customer email. The email is the natural key;
// the id is generated the first time an email is seen.
type Account struct {
	ID              string     `json:"id" db:"id"`
	Email           string     `json:"email" db:"email"`
	CreditsBalance  int64      `json:"credits_balance" db:"credits_balance"`
	CreditsExpireAt *time.Time `json:"credits_expire_at" db:"credits_expire_at"`
	PlanCode        *string    `json:"plan_code" db:"plan_code"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the stored balance is past its expiry and must be
// treated as zero by every reader, regardless of the stored integer.
func (a *Account) Expired(now time.Time) bool {
	return a.CreditsExpireAt != nil && now.After(*a.CreditsExpireAt)
}

// UsableCredits is the balance after applying the expiry rule.
func (a *Account) UsableCredits(now time.Time) int64 {
	if a.Expired(now) {
		return 0
	}
	return a.CreditsBalance
}
