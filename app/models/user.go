package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_STAFF      = "staff"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// User is the account row owned by the identity service. The paywall only
// reads it to address notifications and to decide privileged access.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email     string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"omitempty,email,max=200"`
	Role      string         `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user staff admin"`
	Status    string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// IsPrivileged reports whether the user bypasses the paywall (staff and admins).
func (u *User) IsPrivileged() bool {
	switch strings.ToLower(strings.TrimSpace(u.Role)) {
	case ROLE_STAFF, ROLE_ADMIN:
		return true
	default:
		return false
	}
}
