package handlers

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/dentaops/clinic-api/internal/auth"
	"github.com/dentaops/clinic-api/internal/httpx"
	"github.com/dentaops/clinic-api/internal/models"
	"github.com/dentaops/clinic-api/internal/validation"
)

type AuthHandler struct{ DB *gorm.DB }

func NewAuthHandler(db *gorm.DB) *AuthHandler { return &AuthHandler{DB: db} }

// meResource is the identity payload returned by Login and Me.
type meResource struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Clinic *uint  `json:"clinic_id,omitempty"`
}

func newMeResource(u *models.User) meResource {
	res := meResource{ID: u.ID, Email: u.Email, Role: u.Role.Name}
	if u.Clinic != nil {
		res.Clinic = &u.Clinic.ID
	}
	return res
}

// Login: POST /login. Issues the http-only session cookie on success.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	v := validation.Violations{}
	validation.Required("email", f.Str("email"), v)
	validation.Required("password", f.Raw("password"), v)
	if !v.Empty() {
		httpx.FailValidation(w, v)
		return
	}

	var user models.User
	if err := h.DB.Preload("Role").Preload("Clinic").Where("email = ?", f.Str("email")).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(w, http.StatusUnauthorized, "invalid_credentials")
		} else {
			httpx.Fail(w, http.StatusInternalServerError, "failed")
		}
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(f.Raw("password"))) != nil {
		httpx.Fail(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	auth.CreateSession(w, user.ID)
	httpx.OK(w, http.StatusOK, newMeResource(&user))
}

// Logout: POST /logout. Clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	auth.ClearSession(w)
	httpx.OK(w, http.StatusOK, nil)
}

// Me: GET /me (authenticated). Returns the current identity.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var user models.User
	if err := h.DB.Preload("Role").Preload("Clinic").Where("id = ?", uid).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			auth.ClearSession(w)
			httpx.Fail(w, http.StatusUnauthorized, "unauthorized")
		} else {
			httpx.Fail(w, http.StatusInternalServerError, "failed")
		}
		return
	}
	httpx.OK(w, http.StatusOK, newMeResource(&user))
}
