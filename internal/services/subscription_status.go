package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/dentaops/clinic-api/internal/clock"
	"github.com/dentaops/clinic-api/internal/models"
)

// ClinicStatus is the derived subscription state attached to each clinic row
// in listings.
type ClinicStatus struct {
	IsSubscribed        bool       `json:"isSubscribed"`
	CurrentBestPlan     *string    `json:"current_best_plan"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date"`
}

// SubscriptionStatusService computes clinic subscription status in bulk: one
// subscriptions+plans query per page of clinics instead of one per row.
type SubscriptionStatusService struct {
	DB    *gorm.DB
	Clock clock.Clock
}

func NewSubscriptionStatusService(db *gorm.DB, clk clock.Clock) *SubscriptionStatusService {
	return &SubscriptionStatusService{DB: db, Clock: clk}
}

// ForClinics returns the status for every clinic id in the slice. Clinics
// without an active subscription get the zero status (isSubscribed=false,
// nil plan and end date).
//
// current_best_plan is the active subscription with the highest plan value;
// ties on value break toward the latest end_date. subscription_end_date is
// the maximum end_date across all active subscriptions, independent of which
// plan won.
func (s *SubscriptionStatusService) ForClinics(clinicIDs []uint) (map[uint]ClinicStatus, error) {
	out := make(map[uint]ClinicStatus, len(clinicIDs))
	for _, id := range clinicIDs {
		out[id] = ClinicStatus{}
	}
	if len(clinicIDs) == 0 {
		return out, nil
	}

	now := s.Clock.Now()
	var subs []models.Subscription
	if err := s.DB.Preload("Plan").
		Where("clinic_id IN ?", clinicIDs).
		Where("end_date > ?", now).
		Find(&subs).Error; err != nil {
		return nil, err
	}

	type best struct {
		planName  string
		planValue int
		planEnd   time.Time // end_date of the winning plan's subscription
		maxEnd    time.Time
	}
	byClinic := make(map[uint]*best, len(subs))
	for i := range subs {
		sub := &subs[i]
		if sub.Plan == nil {
			continue
		}
		b, ok := byClinic[sub.ClinicID]
		if !ok {
			b = &best{planName: sub.Plan.PlanName, planValue: sub.Plan.Value, planEnd: sub.EndDate, maxEnd: sub.EndDate}
			byClinic[sub.ClinicID] = b
			continue
		}
		if sub.Plan.Value > b.planValue ||
			(sub.Plan.Value == b.planValue && sub.EndDate.After(b.planEnd)) {
			b.planName = sub.Plan.PlanName
			b.planValue = sub.Plan.Value
			b.planEnd = sub.EndDate
		}
		if sub.EndDate.After(b.maxEnd) {
			b.maxEnd = sub.EndDate
		}
	}

	for id, b := range byClinic {
		name := b.planName
		end := b.maxEnd
		out[id] = ClinicStatus{IsSubscribed: true, CurrentBestPlan: &name, SubscriptionEndDate: &end}
	}
	return out, nil
}
