package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/dentaops/clinic-api/internal/clock"
	"github.com/dentaops/clinic-api/internal/fieldcrypt"
	"github.com/dentaops/clinic-api/internal/httpx"
	"github.com/dentaops/clinic-api/internal/models"
	"github.com/dentaops/clinic-api/internal/policy"
	"github.com/dentaops/clinic-api/internal/services"
	"github.com/dentaops/clinic-api/internal/storage"
	"github.com/dentaops/clinic-api/internal/validation"
)

const (
	defaultPerPage = 15
	maxPerPage     = 100
	maxLogoBytes   = 5 << 20 // 5MB
	logoNamespace  = "clinic_logos"
)

var searchSanitizer = regexp.MustCompile(`[^a-zA-Z0-9 \-_]`)

// clinicSortFields is the sort allow-list; keys are the wire names.
// "email" sorts on the stored ciphertext, which is deterministic but not
// alphabetical on plaintext (same behavior as the encrypted source columns).
var clinicSortFields = map[string]string{
	"name":          "clinic_name",
	"email":         "clinic_email",
	"created_at":    "created_at",
	"updated_at":    "updated_at",
	"wilaya_number": "wilaya_number",
}

type ClinicHandler struct {
	DB     *gorm.DB
	Status *services.SubscriptionStatusService
	Logos  storage.BlobStore
	Clock  clock.Clock
}

func NewClinicHandler(db *gorm.DB, logos storage.BlobStore, clk clock.Clock) *ClinicHandler {
	return &ClinicHandler{
		DB:     db,
		Status: services.NewSubscriptionStatusService(db, clk),
		Logos:  logos,
		Clock:  clk,
	}
}

// clinicResource is the output row shape: decrypted contact fields plus the
// derived subscription status.
type clinicResource struct {
	ID                  uint       `json:"id"`
	ClinicName          string     `json:"clinic_name"`
	Adress              string     `json:"adress"`
	WilayaNumber        int        `json:"wilaya_number"`
	PhoneNumber1        string     `json:"phone_number_1"`
	PhoneNumber2        string     `json:"phone_number_2"`
	ClinicEmail         string     `json:"clinic_email"`
	ClinicLogo512       string     `json:"clinic_logo_512"`
	IsSubscribed        bool       `json:"isSubscribed"`
	CurrentBestPlan     *string    `json:"current_best_plan"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func newClinicResource(c *models.Clinic, st services.ClinicStatus) clinicResource {
	return clinicResource{
		ID:                  c.ID,
		ClinicName:          c.ClinicName,
		Adress:              string(c.Adress),
		WilayaNumber:        c.WilayaNumber,
		PhoneNumber1:        string(c.PhoneNumber1),
		PhoneNumber2:        string(c.PhoneNumber2),
		ClinicEmail:         string(c.ClinicEmail),
		ClinicLogo512:       c.ClinicLogo512,
		IsSubscribed:        st.IsSubscribed,
		CurrentBestPlan:     st.CurrentBestPlan,
		SubscriptionEndDate: st.SubscriptionEndDate,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

// Signup: POST /v1/clinic (unauthenticated). Creates the User and its Clinic
// atomically; a failure on either side rolls back both.
func (h *ClinicHandler) Signup(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	v := validation.Violations{}
	validation.Required("email", f.Str("email"), v)
	validation.Email("email", f.Str("email"), v)
	validation.Required("password", f.Raw("password"), v)
	validation.MinLen("password", f.Raw("password"), 8, v)
	validation.MaxLen("password", f.Raw("password"), 255, v)
	validation.Required("clinic_name", f.Str("clinic_name"), v)
	validation.MaxLen("clinic_name", f.Str("clinic_name"), 255, v)
	validation.Required("adress", f.Str("adress"), v)
	validation.MaxLen("adress", f.Str("adress"), 255, v)
	validation.Required("phone_number_1", f.Str("phone_number_1"), v)
	validation.MaxLen("phone_number_1", f.Str("phone_number_1"), 255, v)
	validation.MaxLen("phone_number_2", f.Str("phone_number_2"), 255, v)
	validation.Email("clinic_email", f.Str("clinic_email"), v)

	wilaya := 0
	if f.Str("wilaya_number") == "" {
		v.Add("wilaya_number", "required")
	} else if n, ok := f.Int("wilaya_number", v); ok {
		wilaya = n
		validation.IntRange("wilaya_number", n, 1, 58, v)
	}

	logo := f.File("clinic_logo_512")
	validateLogo(logo, v)

	if !v.Empty() {
		httpx.FailValidation(w, v)
		return
	}

	var role models.Role
	if err := h.DB.Where("name = ?", models.RoleClinic).First(&role).Error; err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(f.Raw("password")), bcrypt.DefaultCost)
	if err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}

	logoPath := ""
	if logo != nil {
		if logoPath, err = h.saveLogo(logo); err != nil {
			httpx.Fail(w, http.StatusInternalServerError, "failed")
			return
		}
	}

	var clinic models.Clinic
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		user := models.User{Email: f.Str("email"), Password: string(hash), RoleID: role.ID}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		clinic = models.Clinic{
			ClinicName:    f.Str("clinic_name"),
			Adress:        fieldcrypt.EncryptedString(f.Str("adress")),
			PhoneNumber1:  fieldcrypt.EncryptedString(f.Str("phone_number_1")),
			PhoneNumber2:  fieldcrypt.EncryptedString(f.Str("phone_number_2")),
			WilayaNumber:  wilaya,
			ClinicEmail:   fieldcrypt.EncryptedString(f.Str("clinic_email")),
			ClinicLogo512: logoPath,
			UserID:        user.ID,
		}
		return tx.Create(&clinic).Error
	})
	if txErr != nil {
		// The transaction rolled back: do not leave the uploaded logo behind.
		if logoPath != "" {
			_ = h.Logos.Remove(logoPath)
		}
		// The unique index is the authority on duplicate emails; a pre-check
		// would race concurrent signups.
		if isUniqueViolation(txErr) {
			httpx.FailValidation(w, validation.Violations{"email": "email_unique"})
			return
		}
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}

	httpx.OK(w, http.StatusCreated, newClinicResource(&clinic, services.ClinicStatus{}))
}

// List: GET /v1/clinic (super_admin). Filters, sorts, paginates, then
// annotates each page row with subscription status in one batched query.
func (h *ClinicHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	v := validation.Violations{}
	validation.In("sort_by", q.Get("sort_by"), []string{"name", "email", "created_at", "updated_at", "wilaya_number"}, v)
	validation.In("sort_dir", q.Get("sort_dir"), []string{"asc", "desc"}, v)
	validation.MaxLen("search", q.Get("search"), 255, v)
	wilaya := 0
	if s := q.Get("wilaya_number"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			v.Add("wilaya_number", "integer")
		} else {
			wilaya = n
			validation.IntRange("wilaya_number", n, 1, 58, v)
		}
	}
	if !v.Empty() {
		httpx.FailValidation(w, v)
		return
	}

	page := queryInt(r, "page", 1, 1, 1<<30)
	perPage := queryInt(r, "per_page", defaultPerPage, 1, maxPerPage)

	dbq := h.DB.Model(&models.Clinic{})
	if search := strings.TrimSpace(q.Get("search")); search != "" {
		safe := searchSanitizer.ReplaceAllString(search, "")
		dbq = dbq.Where("lower(clinic_name) LIKE ?", "%"+strings.ToLower(safe)+"%")
	}
	if wilaya != 0 {
		dbq = dbq.Where("wilaya_number = ?", wilaya)
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}

	sortBy := q.Get("sort_by")
	column, ok := clinicSortFields[sortBy]
	if !ok {
		column = "created_at"
	}
	dir := "desc"
	if q.Get("sort_dir") == "asc" {
		dir = "asc"
	}

	var clinics []models.Clinic
	if err := dbq.Order(column + " " + dir).
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&clinics).Error; err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}

	ids := make([]uint, len(clinics))
	for i := range clinics {
		ids[i] = clinics[i].ID
	}
	statuses, err := h.Status.ForClinics(ids)
	if err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}

	resources := make([]clinicResource, len(clinics))
	for i := range clinics {
		resources[i] = newClinicResource(&clinics[i], statuses[clinics[i].ID])
	}
	httpx.Page(w, resources, httpx.NewPagination(page, perPage, total))
}

// Show: GET /v1/clinic/{id} (super_admin or the owning clinic).
func (h *ClinicHandler) Show(w http.ResponseWriter, r *http.Request) {
	clinic, ok := h.fetchAuthorized(w, r)
	if !ok {
		return
	}
	statuses, err := h.Status.ForClinics([]uint{clinic.ID})
	if err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}
	httpx.OK(w, http.StatusOK, newClinicResource(clinic, statuses[clinic.ID]))
}

// Update: POST /v1/clinic-update/{id} or PUT /v1/clinic/{id}. Partial patch:
// only fields present in the request are validated and applied. Replacing the
// logo overwrites the stored path; the previous file is not garbage-collected.
func (h *ClinicHandler) Update(w http.ResponseWriter, r *http.Request) {
	clinic, ok := h.fetchAuthorized(w, r)
	if !ok {
		return
	}
	f, err := readForm(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	v := validation.Violations{}
	if f.Has("clinic_name") {
		validation.Required("clinic_name", f.Str("clinic_name"), v)
		validation.MaxLen("clinic_name", f.Str("clinic_name"), 255, v)
	}
	if f.Has("adress") {
		validation.Required("adress", f.Str("adress"), v)
		validation.MaxLen("adress", f.Str("adress"), 255, v)
	}
	if f.Has("phone_number_1") {
		validation.Required("phone_number_1", f.Str("phone_number_1"), v)
		validation.MaxLen("phone_number_1", f.Str("phone_number_1"), 255, v)
	}
	if f.Has("phone_number_2") {
		validation.MaxLen("phone_number_2", f.Str("phone_number_2"), 255, v)
	}
	if f.Has("clinic_email") {
		validation.Email("clinic_email", f.Str("clinic_email"), v)
	}
	wilaya := 0
	if f.Has("wilaya_number") {
		if n, ok := f.Int("wilaya_number", v); ok {
			wilaya = n
			validation.IntRange("wilaya_number", n, 1, 58, v)
		} else if f.Str("wilaya_number") == "" {
			v.Add("wilaya_number", "integer")
		}
	}
	if f.Has("email") {
		validation.Required("email", f.Str("email"), v)
		validation.Email("email", f.Str("email"), v)
	}
	if f.Has("password") {
		// A present-but-empty password would otherwise slip past MinLen and
		// lock the account behind a bcrypt hash of "".
		if f.Raw("password") == "" {
			v.Add("password", "min")
		}
		validation.MinLen("password", f.Raw("password"), 8, v)
		validation.MaxLen("password", f.Raw("password"), 255, v)
	}
	logo := f.File("clinic_logo_512")
	validateLogo(logo, v)

	if v.Empty() && f.Has("email") {
		var count int64
		if err := h.DB.Model(&models.User{}).Where("email = ? AND id <> ?", f.Str("email"), clinic.UserID).Count(&count).Error; err != nil {
			httpx.Fail(w, http.StatusInternalServerError, "failed")
			return
		}
		if count > 0 {
			v["email"] = "email_unique"
		}
	}
	if !v.Empty() {
		httpx.FailValidation(w, v)
		return
	}

	if f.Has("clinic_name") {
		clinic.ClinicName = f.Str("clinic_name")
	}
	if f.Has("adress") {
		clinic.Adress = fieldcrypt.EncryptedString(f.Str("adress"))
	}
	if f.Has("phone_number_1") {
		clinic.PhoneNumber1 = fieldcrypt.EncryptedString(f.Str("phone_number_1"))
	}
	if f.Has("phone_number_2") {
		clinic.PhoneNumber2 = fieldcrypt.EncryptedString(f.Str("phone_number_2"))
	}
	if f.Has("clinic_email") {
		clinic.ClinicEmail = fieldcrypt.EncryptedString(f.Str("clinic_email"))
	}
	if wilaya != 0 {
		clinic.WilayaNumber = wilaya
	}
	if logo != nil {
		path, err := h.saveLogo(logo)
		if err != nil {
			httpx.Fail(w, http.StatusInternalServerError, "failed")
			return
		}
		clinic.ClinicLogo512 = path
	}

	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		if f.Has("email") || f.Has("password") {
			updates := map[string]any{}
			if f.Has("email") {
				updates["email"] = f.Str("email")
			}
			if f.Has("password") {
				hash, err := bcrypt.GenerateFromPassword([]byte(f.Raw("password")), bcrypt.DefaultCost)
				if err != nil {
					return err
				}
				updates["password"] = string(hash)
			}
			if err := tx.Model(&models.User{}).Where("id = ?", clinic.UserID).Updates(updates).Error; err != nil {
				return err
			}
		}
		return tx.Save(clinic).Error
	})
	if txErr != nil {
		if isUniqueViolation(txErr) {
			httpx.FailValidation(w, validation.Violations{"email": "email_unique"})
			return
		}
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}

	statuses, err := h.Status.ForClinics([]uint{clinic.ID})
	if err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}
	httpx.OK(w, http.StatusOK, newClinicResource(clinic, statuses[clinic.ID]))
}

// Destroy: DELETE /v1/clinic/{id} (super_admin). Soft delete: the row is
// tombstoned and disappears from every query until restored.
func (h *ClinicHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res := h.DB.Delete(&models.Clinic{}, id)
	if res.Error != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}
	if res.RowsAffected == 0 {
		httpx.Fail(w, http.StatusNotFound, "not_found")
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

// Restore: POST /v1/clinic/{id}/restore (super_admin). Clears the tombstone.
func (h *ClinicHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res := h.DB.Unscoped().Model(&models.Clinic{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Update("deleted_at", nil)
	if res.Error != nil {
		httpx.Fail(w, http.StatusInternalServerError, "failed")
		return
	}
	if res.RowsAffected == 0 {
		httpx.Fail(w, http.StatusNotFound, "not_found")
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

// fetchAuthorized loads the clinic from the path id and enforces the
// super_admin-or-owner rule shared by Show and Update.
func (h *ClinicHandler) fetchAuthorized(w http.ResponseWriter, r *http.Request) (*models.Clinic, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	actor, ok := policy.ActorFrom(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if !actor.CanManageClinic(id) {
		httpx.Fail(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	var clinic models.Clinic
	if err := h.DB.First(&clinic, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(w, http.StatusNotFound, "not_found")
		} else {
			httpx.Fail(w, http.StatusInternalServerError, "failed")
		}
		return nil, false
	}
	return &clinic, true
}

func (h *ClinicHandler) saveLogo(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	return h.Logos.Save(logoNamespace, fh.Filename, src)
}

var logoExtensions = map[string]bool{".jpeg": true, ".jpg": true, ".png": true, ".gif": true}

func validateLogo(fh *multipart.FileHeader, v validation.Violations) {
	if fh == nil {
		return
	}
	if fh.Size > maxLogoBytes {
		v.Add("clinic_logo_512", "max")
	}
	if !logoExtensions[strings.ToLower(filepath.Ext(fh.Filename))] {
		v.Add("clinic_logo_512", "mimes")
	}
}

// isUniqueViolation matches the unique-constraint errors of both supported
// drivers without importing driver error types (postgres: "duplicate key
// value violates unique constraint", sqlite: "UNIQUE constraint failed").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// pathID parses the {id} wildcard; a non-numeric id is simply not found.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	n, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || n == 0 {
		httpx.Fail(w, http.StatusNotFound, "not_found")
		return 0, false
	}
	return uint(n), true
}
