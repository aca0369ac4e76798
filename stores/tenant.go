package stores

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/malwarebo/pulse/models"
	"gorm.io/gorm"
)

type TenantStore struct {
	BaseStore
}

func CreateTenantStore(db *gorm.DB) *TenantStore {
	return &TenantStore{BaseStore: BaseStore{db: db}}
}

func (s *TenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.APIKey == "" {
		key, err := s.generateAPIKey()
		if err != nil {
			return err
		}
		tenant.APIKey = key
	}
	return s.GetDB(ctx).Create(tenant).Error
}

func (s *TenantStore) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.GetDB(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *TenantStore) GetByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.GetDB(ctx).Where("api_key = ?", apiKey).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *TenantStore) UpdateTier(ctx context.Context, id string, tier models.Tier) error {
	result := s.GetDB(ctx).Model(&models.Tenant{}).Where("id = ?", id).Update("tier", tier)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *TenantStore) generateAPIKey() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "pk_" + hex.EncodeToString(bytes), nil
}
