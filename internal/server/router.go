// Package server wires routes, middleware, and health endpoints.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/dentaops/clinic-api/internal/auth"
	"github.com/dentaops/clinic-api/internal/clock"
	"github.com/dentaops/clinic-api/internal/handlers"
	"github.com/dentaops/clinic-api/internal/httpx"
	"github.com/dentaops/clinic-api/internal/models"
	"github.com/dentaops/clinic-api/internal/policy"
	"github.com/dentaops/clinic-api/internal/storage"
)

// New constructs the root http.Handler with all routes and middlewares applied.
func New(db *gorm.DB, logos storage.BlobStore, clk clock.Clock) http.Handler {
	mux := http.NewServeMux()

	// RequireAuth verifies on each request that the session's user still exists.
	auth.SetUserVerifier(func(_ context.Context, uid string) bool {
		var count int64
		if err := db.Model(&models.User{}).Where("id = ?", uid).Limit(1).Count(&count).Error; err != nil {
			return false
		}
		return count > 0
	})

	// --- Health endpoints ---
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Exec("SELECT 1").Error; err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	resolve := policy.Resolve(db)
	superAdmin := policy.RequireRole(models.RoleSuperAdmin)
	adminOrClinic := policy.RequireRole(models.RoleSuperAdmin, models.RoleClinic)

	// Session endpoints
	ah := handlers.NewAuthHandler(db)
	mux.HandleFunc("POST /login", ah.Login)
	mux.HandleFunc("POST /logout", ah.Logout)
	mux.Handle("GET /me", auth.RequireAuth(http.HandlerFunc(ah.Me)))

	// Clinic endpoints
	ch := handlers.NewClinicHandler(db, logos, clk)
	mux.HandleFunc("POST /v1/clinic", ch.Signup) // unauthenticated signup
	mux.Handle("GET /v1/clinic", chain(http.HandlerFunc(ch.List), auth.RequireAuth, resolve, superAdmin))
	mux.Handle("GET /v1/clinic/{id}", chain(http.HandlerFunc(ch.Show), auth.RequireAuth, resolve, adminOrClinic))
	mux.Handle("PUT /v1/clinic/{id}", chain(http.HandlerFunc(ch.Update), auth.RequireAuth, resolve, adminOrClinic))
	// POST alias kept for multipart clients that cannot send PUT bodies.
	mux.Handle("POST /v1/clinic-update/{id}", chain(http.HandlerFunc(ch.Update), auth.RequireAuth, resolve, adminOrClinic))
	mux.Handle("DELETE /v1/clinic/{id}", chain(http.HandlerFunc(ch.Destroy), auth.RequireAuth, resolve, superAdmin))
	mux.Handle("POST /v1/clinic/{id}/restore", chain(http.HandlerFunc(ch.Restore), auth.RequireAuth, resolve, superAdmin))

	// Subscription endpoints
	sh := handlers.NewSubscriptionHandler(db, clk)
	mux.Handle("GET /v1/subscription", chain(http.HandlerFunc(sh.List), auth.RequireAuth, resolve, adminOrClinic))
	mux.Handle("POST /v1/subscription", chain(http.HandlerFunc(sh.Create), auth.RequireAuth, resolve, superAdmin))
	mux.Handle("PUT /v1/subscription/{id}", chain(http.HandlerFunc(sh.Update), auth.RequireAuth, resolve, superAdmin))

	return withRecover(withLogging(auth.Middleware(mux)))
}

// chain applies middlewares outermost-first.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				httpx.Fail(w, http.StatusInternalServerError, "internal_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
