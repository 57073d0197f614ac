package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role names are fixed reference data seeded at setup.
const (
	RoleSuperAdmin   = "super_admin"
	RoleClinic       = "clinic"
	RoleDentist      = "dentist"
	RoleReceptionist = "receptionist"
	RolePatient      = "patient"
)

type Role struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"unique;not null" json:"name"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// User carries a UUID primary key so account ids are unguessable and stable
// across shards.
type User struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"unique;not null;index" json:"email"`
	Password  string    `gorm:"not null" json:"-"` // bcrypt hash
	RoleID    uint      `gorm:"not null" json:"role_id"`
	Role      Role      `gorm:"foreignKey:RoleID" json:"role"`
	Clinic    *Clinic   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"clinic,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the UUID when the caller did not set one.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
