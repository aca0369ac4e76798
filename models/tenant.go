package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierPro, TierEnterprise:
		return true
	}
	return false
}

// CanAccessInsights gates the insights surface by subscription tier.
func CanAccessInsights(tier Tier) bool {
	return tier == TierPro || tier == TierEnterprise
}

type Tenant struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"not null"`
	APIKey    string    `json:"api_key" gorm:"uniqueIndex;not null"`
	Tier      Tier      `json:"tier" gorm:"size:16;not null;default:'free'"`
	Locale    string    `json:"locale" gorm:"size:16"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type CreateTenantRequest struct {
	Name   string `json:"name" validate:"required,max=255"`
	Tier   Tier   `json:"tier" validate:"required,oneof=free starter pro enterprise"`
	Locale string `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

type TenantResponse struct {
	Tenant *Tenant `json:"tenant"`
}
