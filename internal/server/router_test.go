package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dentaops/clinic-api/internal/clock"
	dbpkg "github.com/dentaops/clinic-api/internal/db"
	"github.com/dentaops/clinic-api/internal/models"
	"github.com/dentaops/clinic-api/internal/storage"
)

// End-to-end coverage: real router, real middleware chain, session cookies.

func newTestServer(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := dbpkg.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := dbpkg.SeedReference(db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	srv := httptest.NewServer(New(db, storage.NewDiskStore(t.TempDir()), clock.System{}))
	t.Cleanup(srv.Close)
	return srv, db
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func seedUser(t *testing.T, db *gorm.DB, email, password, role string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	var r models.Role
	if err := db.Where("name = ?", role).First(&r).Error; err != nil {
		t.Fatalf("role: %v", err)
	}
	user := models.User{Email: email, Password: string(hash), RoleID: r.ID}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("user: %v", err)
	}
	return &user
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := client.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func login(t *testing.T, client *http.Client, base, email, password string) {
	t.Helper()
	resp := postJSON(t, client, base+"/login", map[string]string{"email": email, "password": password})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200 got %d", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/health", "/healthz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.StatusCode)
		}
	}
}

func TestProtectedRoutesRejectAnonymous(t *testing.T) {
	srv, _ := newTestServer(t)
	client := newClient(t)

	for _, path := range []string{"/me", "/v1/clinic", "/v1/subscription"} {
		resp, err := client.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, resp.StatusCode)
		}
	}
}

func TestRoleEnforcementOnClinicList(t *testing.T) {
	srv, db := newTestServer(t)

	// Signup creates a clinic-role account; listing all clinics is admin-only.
	client := newClient(t)
	resp := postJSON(t, client, srv.URL+"/v1/clinic", map[string]any{
		"email":          "clinic@test.dz",
		"password":       "s3cretpass",
		"clinic_name":    "Clinique Test",
		"adress":         "1 rue test",
		"phone_number_1": "021 00 00 00",
		"wilaya_number":  16,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: expected 201 got %d", resp.StatusCode)
	}

	login(t, client, srv.URL, "clinic@test.dz", "s3cretpass")
	resp, err := client.Get(srv.URL + "/v1/clinic")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("clinic role listing all clinics: expected 403 got %d", resp.StatusCode)
	}

	// The admin can.
	seedUser(t, db, "admin@test.dz", "adminpass", models.RoleSuperAdmin)
	admin := newClient(t)
	login(t, admin, srv.URL, "admin@test.dz", "adminpass")
	resp, err = admin.Get(srv.URL + "/v1/clinic")
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin listing clinics: expected 200 got %d", resp.StatusCode)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	srv, db := newTestServer(t)
	seedUser(t, db, "admin@test.dz", "adminpass", models.RoleSuperAdmin)

	client := newClient(t)
	login(t, client, srv.URL, "admin@test.dz", "adminpass")

	resp, err := client.Get(srv.URL + "/me")
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me after login: expected 200 got %d", resp.StatusCode)
	}

	resp = postJSON(t, client, srv.URL+"/logout", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200 got %d", resp.StatusCode)
	}

	resp, err = client.Get(srv.URL + "/me")
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout: expected 401 got %d", resp.StatusCode)
	}
}

func TestSessionSurvivesAcrossRequests(t *testing.T) {
	srv, db := newTestServer(t)
	seedUser(t, db, "admin@test.dz", "adminpass", models.RoleSuperAdmin)

	client := newClient(t)
	login(t, client, srv.URL, "admin@test.dz", "adminpass")

	// Create a subscription target first.
	resp := postJSON(t, client, srv.URL+"/v1/clinic", map[string]any{
		"email":          "c1@test.dz",
		"password":       "s3cretpass",
		"clinic_name":    "C1",
		"adress":         "2 rue test",
		"phone_number_1": "021 11 11 11",
		"wilaya_number":  31,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: expected 201 got %d", resp.StatusCode)
	}

	var clinic models.Clinic
	if err := db.Order("id desc").First(&clinic).Error; err != nil {
		t.Fatalf("clinic: %v", err)
	}
	var plan models.Plan
	if err := db.Where("plan_name = ?", "basic").First(&plan).Error; err != nil {
		t.Fatalf("plan: %v", err)
	}

	resp = postJSON(t, client, srv.URL+"/v1/subscription", map[string]any{
		"clinic_id":      clinic.ID,
		"plan_id":        plan.ID,
		"price":          50000,
		"currency":       "DZD",
		"start_date":     time.Now().UTC().Format("2006-01-02"),
		"end_date":       time.Now().UTC().AddDate(0, 1, 0).Format("2006-01-02"),
		"payment_method": "cash",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subscription: expected 201 got %d", resp.StatusCode)
	}
}
