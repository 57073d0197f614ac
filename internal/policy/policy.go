// Package policy centralizes authorization: resolving the request actor,
// coarse role checks, and tenant scoping applied before query construction.
// Listing endpoints compose the same isolation guarantee instead of
// re-implementing it inside handler bodies.
package policy

import (
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/dentaops/clinic-api/internal/auth"
	"github.com/dentaops/clinic-api/internal/httpx"
	"github.com/dentaops/clinic-api/internal/models"
)

// Sentinel errors returned by authorization checks.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Ownable is implemented by resources that belong to a user account.
type Ownable interface {
	GetUserID() string
}

// Actor is the resolved identity of the current request.
type Actor struct {
	UserID   string
	Role     string
	ClinicID uint // 0 when the account owns no clinic
}

// IsSuperAdmin reports whether the actor holds the super_admin role.
func (a *Actor) IsSuperAdmin() bool { return a.Role == models.RoleSuperAdmin }

// HasRole reports whether the actor's role is in the given set.
func (a *Actor) HasRole(roles ...string) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// CanManageClinic: super_admin may act on any clinic; a clinic user only on
// its own record.
func (a *Actor) CanManageClinic(clinicID uint) bool {
	if a.IsSuperAdmin() {
		return true
	}
	return a.Role == models.RoleClinic && a.ClinicID != 0 && a.ClinicID == clinicID
}

// Owns checks account-level ownership of a resource.
func (a *Actor) Owns(resource Ownable) bool {
	return resource != nil && resource.GetUserID() == a.UserID
}

// ResolveActor loads the user's role and clinic in one pass.
func ResolveActor(db *gorm.DB, userID string) (*Actor, error) {
	var user models.User
	if err := db.Preload("Role").Preload("Clinic").Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	actor := &Actor{UserID: user.ID, Role: user.Role.Name}
	if user.Clinic != nil {
		actor.ClinicID = user.Clinic.ID
	}
	return actor, nil
}

// ScopeSubscriptions forces clinic-role callers onto their own clinic_id.
// This is the hard tenant-isolation invariant: rows belonging to other
// clinics must never be visible regardless of other filters. A clinic-role
// actor without a clinic row matches nothing.
func ScopeSubscriptions(q *gorm.DB, a *Actor) *gorm.DB {
	if a.Role == models.RoleClinic {
		return q.Where("clinic_id = ?", a.ClinicID)
	}
	return q
}

type actorCtxKey struct{}

// WithActor stores the resolved actor in the context.
func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, a)
}

// ActorFrom extracts the resolved actor.
func ActorFrom(ctx context.Context) (*Actor, bool) {
	a, ok := ctx.Value(actorCtxKey{}).(*Actor)
	return a, ok
}

// Resolve is middleware that turns the session user id into an Actor. It must
// run after auth.Middleware and before any role check.
func Resolve(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				httpx.Fail(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			actor, err := ResolveActor(db, uid)
			if err != nil {
				if errors.Is(err, ErrUnauthorized) {
					auth.ClearSession(w)
					httpx.Fail(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				httpx.Fail(w, http.StatusInternalServerError, "failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RequireRole rejects actors outside the allowed role set with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				httpx.Fail(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !actor.HasRole(roles...) {
				httpx.Fail(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
