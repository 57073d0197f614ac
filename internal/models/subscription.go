package models

import "time"

// Plan is the static subscription catalog. Value is the ordinal rank used to
// pick the "best" active plan (basic < pro < enterprise); tenants never
// mutate plans.
type Plan struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PlanName  string    `gorm:"unique;not null" json:"plan_name"`
	Value     int       `gorm:"not null" json:"value"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Subscription is a time-bounded purchase record linking a clinic to a plan.
// "Active" is derived (end_date strictly in the future), never stored. A
// clinic may hold several rows over time and even concurrently; deleting a
// plan is blocked while subscriptions reference it.
type Subscription struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ClinicID      uint      `gorm:"not null;index" json:"clinic_id"`
	Clinic        *Clinic   `gorm:"foreignKey:ClinicID;constraint:OnDelete:CASCADE" json:"-"`
	PlanID        uint      `gorm:"not null;index" json:"plan_id"`
	Plan          *Plan     `gorm:"foreignKey:PlanID;constraint:OnDelete:RESTRICT" json:"-"`
	Price         int64     `gorm:"not null" json:"price"` // minor currency units
	Currency      string    `gorm:"size:10;not null" json:"currency"`
	StartDate     time.Time `gorm:"not null" json:"start_date"`
	EndDate       time.Time `gorm:"not null;index" json:"end_date"`
	PaymentMethod string    `gorm:"size:255;not null" json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ActiveAt reports whether the subscription is active at the given instant.
func (s *Subscription) ActiveAt(t time.Time) bool { return s.EndDate.After(t) }
