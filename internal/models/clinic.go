package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dentaops/clinic-api/internal/fieldcrypt"
)

// Clinic is the tenant entity: exactly one per user account. Contact fields
// are encrypted at rest through fieldcrypt.EncryptedString; application code
// only ever sees plaintext.
//
// The "adress" spelling is part of the wire contract and kept as-is.
type Clinic struct {
	ID            uint                       `gorm:"primaryKey" json:"id"`
	ClinicName    string                     `gorm:"size:255;not null;index" json:"clinic_name"`
	Adress        fieldcrypt.EncryptedString `gorm:"not null" json:"adress"`
	PhoneNumber1  fieldcrypt.EncryptedString `gorm:"not null" json:"phone_number_1"`
	PhoneNumber2  fieldcrypt.EncryptedString `json:"phone_number_2,omitempty"`
	WilayaNumber  int                        `gorm:"not null;index" json:"wilaya_number"`
	ClinicEmail   fieldcrypt.EncryptedString `json:"clinic_email,omitempty"`
	ClinicLogo512 string                     `gorm:"size:255" json:"clinic_logo_512,omitempty"`
	UserID        string                     `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	User          *User                      `gorm:"foreignKey:UserID" json:"-"`
	Subscriptions []Subscription             `gorm:"foreignKey:ClinicID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
	DeletedAt     gorm.DeletedAt             `gorm:"index" json:"-"`
}

// GetUserID satisfies the policy.Ownable interface.
func (c *Clinic) GetUserID() string { return c.UserID }
