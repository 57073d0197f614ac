package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/dentaops/clinic-api/internal/db"
	"github.com/dentaops/clinic-api/internal/httpx"
	"github.com/dentaops/clinic-api/internal/models"
	"github.com/dentaops/clinic-api/internal/policy"
	"github.com/dentaops/clinic-api/internal/storage"
)

// frozenNow is the reference instant for all clock-sensitive handler tests.
var frozenNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type envelope struct {
	Success    bool              `json:"success"`
	Data       json.RawMessage   `json:"data"`
	Pagination *httpx.Pagination `json:"pagination"`
	Error      string            `json:"error"`
	Errors     map[string]string `json:"errors"`
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Unique in-memory database per test to avoid cross-test collisions.
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := dbpkg.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := dbpkg.SeedReference(db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

func newClinicTestHandler(t *testing.T, db *gorm.DB) *ClinicHandler {
	t.Helper()
	return NewClinicHandler(db, storage.NewDiskStore(t.TempDir()), fixedClock{})
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return frozenNow }

func roleID(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	var role models.Role
	if err := db.Where("name = ?", name).First(&role).Error; err != nil {
		t.Fatalf("role %s: %v", name, err)
	}
	return role.ID
}

func planID(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	var plan models.Plan
	if err := db.Where("plan_name = ?", name).First(&plan).Error; err != nil {
		t.Fatalf("plan %s: %v", name, err)
	}
	return plan.ID
}

// createClinic seeds a user with the clinic role and its clinic row.
func createClinic(t *testing.T, db *gorm.DB, email, name string, wilaya int) *models.Clinic {
	t.Helper()
	user := models.User{Email: email, Password: "x", RoleID: roleID(t, db, models.RoleClinic)}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("user: %v", err)
	}
	clinic := models.Clinic{ClinicName: name, Adress: "1 rue test", PhoneNumber1: "021 00 00 00", WilayaNumber: wilaya, UserID: user.ID}
	if err := db.Create(&clinic).Error; err != nil {
		t.Fatalf("clinic: %v", err)
	}
	return &clinic
}

func createSubscription(t *testing.T, db *gorm.DB, clinicID, planID uint, end time.Time) *models.Subscription {
	t.Helper()
	sub := models.Subscription{
		ClinicID: clinicID, PlanID: planID, Price: 5000, Currency: "DZD",
		StartDate: frozenNow.AddDate(0, -1, 0), EndDate: end, PaymentMethod: "cash",
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("subscription: %v", err)
	}
	return &sub
}

func superAdminActor(t *testing.T, db *gorm.DB) *policy.Actor {
	t.Helper()
	user := models.User{Email: "admin@test.dz", Password: "x", RoleID: roleID(t, db, models.RoleSuperAdmin)}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("admin user: %v", err)
	}
	return &policy.Actor{UserID: user.ID, Role: models.RoleSuperAdmin}
}

func clinicActor(c *models.Clinic) *policy.Actor {
	return &policy.Actor{UserID: c.UserID, Role: models.RoleClinic, ClinicID: c.ID}
}

// jsonRequest builds a JSON request with the actor (if any) and path id wired in.
func jsonRequest(method, target string, body any, actor *policy.Actor) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req = req.WithContext(policy.WithActor(req.Context(), actor))
	}
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, rec.Body.String())
	}
	return env
}
