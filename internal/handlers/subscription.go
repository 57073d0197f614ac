package handlers

import (
	"errors"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/dentaops/clinic-api/internal/clock"
	"github.com/dentaops/clinic-api/internal/httpx"
	"github.com/dentaops/clinic-api/internal/models"
	"github.com/dentaops/clinic-api/internal/policy"
	"github.com/dentaops/clinic-api/internal/validation"
)

var subscriptionSortFields = map[string]string{
	"id":         "id",
	"price":      "price",
	"start_date": "start_date",
	"end_date":   "end_date",
	"created_at": "created_at",
}

type SubscriptionHandler struct {
	DB    *gorm.DB
	Clock clock.Clock
}

func NewSubscriptionHandler(db *gorm.DB, clk clock.Clock) *SubscriptionHandler {
	return &SubscriptionHandler{DB: db, Clock: clk}
}

// subscriptionResource flattens the eager-loaded clinic and plan names into
// the row.
type subscriptionResource struct {
	ID            uint      `json:"id"`
	ClinicID      uint      `json:"clinic_id"`
	ClinicName    string    `json:"clinic_name"`
	PlanID        uint      `json:"plan_id"`
	PlanName      string    `json:"plan_name"`
	Price         int64     `json:"price"`
	Currency      string    `json:"currency"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newSubscriptionResource(s *models.Subscription) subscriptionResource {
	res := subscriptionResource{
		ID:            s.ID,
		ClinicID:      s.ClinicID,
		PlanID:        s.PlanID,
		Price:         s.Price,
		Currency:      s.Currency,
		StartDate:     s.StartDate,
		EndDate:       s.EndDate,
		PaymentMethod: s.PaymentMethod,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Clinic != nil {
		res.ClinicName = s.Clinic.ClinicName
	}
	if s.Plan != nil {
		res.PlanName = s.Plan.PlanName
	}
	return res
}

// List: GET /v1/subscription. super_admin sees everything; a clinic-role
// caller is forcibly restricted to its own clinic before any filter applies.
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFrom(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	v := validation.Violations{}
	validation.In("sort_by", q.Get("sort_by"), []string{"id", "price", "start_date", "end_date", "created_at"}, v)
	validation.In("sort_dir", q.Get("sort_dir"), []string{"asc", "desc"}, v)
	validation.In("status", q.Get("status"), []string{"active", "expired"}, v)
	validation.MaxLen("plan_name", q.Get("plan_name"), 255, v)
	startDate, hasStart := validation.Date("start_date", q.Get("start_date"), v)
	endDate, hasEnd := validation.Date("end_date", q.Get("end_date"), v)
	if hasStart && hasEnd && endDate.Before(startDate) {
		v.Add("end_date", "after_or_equal")
	}
	if !v.Empty() {
		httpx.FailValidation(w, v)
		return
	}

	page := queryInt(r, "page", 1, 1, 1<<30)
	perPage := queryInt(r, "per_page", defaultPerPage, 1, maxPerPage)

	dbq := policy.ScopeSubscriptions(h.DB.Model(&models.Subscription{}), actor)

	if planName := q.Get("plan_name"); planName != "" {
		var plan models.Plan
		err := h.DB.Where("plan_name = ?", planName).First(&plan).Error
		switch {
		case err == nil:
			dbq = dbq.Where("plan_id = ?", plan.ID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Unknown plan name: empty page, not an error.
			dbq = dbq.Where("plan_id = ?", -1)
		default:
			httpx.Fail(w, http.StatusInternalServerError, "failed")
			return
		}
	}

	switch q.Get("status") {
	case "active":
		dbq = dbq.Where("end_date > ?", h.Clock.Now())
	case "expired":
		dbq = dbq.Where("end_date <= ?", h.Clock.Now())
	}
	if hasStart {
		dbq = dbq.Where("start_date >= ?", startDate)
	}
	if hasEnd {
		dbq = dbq.Where("end_date <= ?", endDate)
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}

	column, ok := subscriptionSortFields[q.Get("sort_by")]
	if !ok {
		column = "created_at"
	}
	dir := "desc"
	if q.Get("sort_dir") == "asc" {
		dir = "asc"
	}

	var subs []models.Subscription
	if err := dbq.
		Preload("Clinic", func(db *gorm.DB) *gorm.DB { return db.Select("id", "clinic_name", "user_id") }).
		Preload("Plan", func(db *gorm.DB) *gorm.DB { return db.Select("id", "plan_name") }).
		Order(column + " " + dir).
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&subs).Error; err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}

	resources := make([]subscriptionResource, len(subs))
	for i := range subs {
		resources[i] = newSubscriptionResource(&subs[i])
	}
	httpx.Page(w, resources, httpx.NewPagination(page, perPage, total))
}

// Create: POST /v1/subscription (super_admin). No uniqueness or overlap check
// against existing subscriptions: concurrent active subscriptions per clinic
// are allowed.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	v := validation.Violations{}
	sub := models.Subscription{}

	if f.Str("clinic_id") == "" {
		v.Add("clinic_id", "required")
	} else if n, ok := f.Int("clinic_id", v); ok {
		sub.ClinicID = uint(n)
	}
	if f.Str("plan_id") == "" {
		v.Add("plan_id", "required")
	} else if n, ok := f.Int("plan_id", v); ok {
		sub.PlanID = uint(n)
	}
	if f.Str("price") == "" {
		v.Add("price", "required")
	} else if n, ok := f.Int64("price", v); ok {
		sub.Price = n
		validation.MinInt("price", n, 0, v)
	}
	validation.Required("currency", f.Str("currency"), v)
	validation.MaxLen("currency", f.Str("currency"), 10, v)
	sub.Currency = f.Str("currency")
	validation.Required("payment_method", f.Str("payment_method"), v)
	validation.MaxLen("payment_method", f.Str("payment_method"), 255, v)
	sub.PaymentMethod = f.Str("payment_method")

	if f.Str("start_date") == "" {
		v.Add("start_date", "required")
	} else if t, ok := validation.Date("start_date", f.Str("start_date"), v); ok {
		sub.StartDate = t
	}
	if f.Str("end_date") == "" {
		v.Add("end_date", "required")
	} else if t, ok := validation.Date("end_date", f.Str("end_date"), v); ok {
		sub.EndDate = t
	}

	if v.Empty() {
		h.checkReferences(&sub, v)
	}
	if !v.Empty() {
		httpx.FailValidation(w, v)
		return
	}

	if err := h.DB.Create(&sub).Error; err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}
	httpx.OK(w, http.StatusCreated, newSubscriptionResource(&sub))
}

// Update: PUT /v1/subscription/{id} (super_admin). Partial patch; 404 when
// the subscription does not exist.
func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var sub models.Subscription
	if err := h.DB.First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(w, http.StatusNotFound, "not_found")
		} else {
			httpx.Fail(w, http.StatusInternalServerError, "failed")
		}
		return
	}

	f, err := readForm(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	v := validation.Violations{}
	refCheck := false
	if f.Has("clinic_id") {
		if n, ok := f.Int("clinic_id", v); ok {
			sub.ClinicID = uint(n)
			refCheck = true
		} else if f.Str("clinic_id") == "" {
			v.Add("clinic_id", "integer")
		}
	}
	if f.Has("plan_id") {
		if n, ok := f.Int("plan_id", v); ok {
			sub.PlanID = uint(n)
			refCheck = true
		} else if f.Str("plan_id") == "" {
			v.Add("plan_id", "integer")
		}
	}
	if f.Has("price") {
		if n, ok := f.Int64("price", v); ok {
			sub.Price = n
			validation.MinInt("price", n, 0, v)
		} else if f.Str("price") == "" {
			v.Add("price", "integer")
		}
	}
	if f.Has("currency") {
		validation.Required("currency", f.Str("currency"), v)
		validation.MaxLen("currency", f.Str("currency"), 10, v)
		sub.Currency = f.Str("currency")
	}
	if f.Has("payment_method") {
		validation.Required("payment_method", f.Str("payment_method"), v)
		validation.MaxLen("payment_method", f.Str("payment_method"), 255, v)
		sub.PaymentMethod = f.Str("payment_method")
	}
	if f.Has("start_date") {
		if t, ok := validation.Date("start_date", f.Str("start_date"), v); ok {
			sub.StartDate = t
		} else if f.Str("start_date") == "" {
			v.Add("start_date", "date")
		}
	}
	if f.Has("end_date") {
		if t, ok := validation.Date("end_date", f.Str("end_date"), v); ok {
			sub.EndDate = t
		} else if f.Str("end_date") == "" {
			v.Add("end_date", "date")
		}
	}

	if v.Empty() && refCheck {
		h.checkReferences(&sub, v)
	}
	if !v.Empty() {
		httpx.FailValidation(w, v)
		return
	}

	if err := h.DB.Save(&sub).Error; err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}
	httpx.OK(w, http.StatusOK, newSubscriptionResource(&sub))
}

// checkReferences verifies that clinic_id and plan_id point at existing rows.
func (h *SubscriptionHandler) checkReferences(sub *models.Subscription, v validation.Violations) {
	var count int64
	if err := h.DB.Model(&models.Clinic{}).Where("id = ?", sub.ClinicID).Count(&count).Error; err != nil || count == 0 {
		v.Add("clinic_id", "exists")
	}
	if err := h.DB.Model(&models.Plan{}).Where("id = ?", sub.PlanID).Count(&count).Error; err != nil || count == 0 {
		v.Add("plan_id", "exists")
	}
}
