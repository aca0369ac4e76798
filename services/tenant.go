package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/stores"
	"github.com/malwarebo/pulse/utils"
	"gorm.io/gorm"
)

type TenantService struct {
	store    *stores.TenantStore
	validate *validator.Validate
}

func CreateTenantService(store *stores.TenantStore) *TenantService {
	return &TenantService{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *TenantService) Create(ctx context.Context, req *models.CreateTenantRequest) (*models.Tenant, error) {
	normalized := models.CreateTenantRequest{
		Name:   strings.TrimSpace(req.Name),
		Tier:   req.Tier,
		Locale: strings.TrimSpace(req.Locale),
	}
	if normalized.Tier == "" {
		normalized.Tier = models.TierFree
	}
	if err := s.validate.Struct(&normalized); err != nil {
		return nil, invalidRequest(err)
	}

	tenant := &models.Tenant{
		Name:     normalized.Name,
		Tier:     normalized.Tier,
		Locale:   normalized.Locale,
		IsActive: true,
	}
	if err := s.store.Create(ctx, tenant); err != nil {
		return nil, utils.WrapAPIError(err, utils.ErrDatabaseQuery)
	}
	return tenant, nil
}

func (s *TenantService) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	tenant, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNotFound
		}
		return nil, utils.WrapAPIError(err, utils.ErrDatabaseQuery)
	}
	return tenant, nil
}

// Authenticate resolves an API key to an active tenant.
func (s *TenantService) Authenticate(ctx context.Context, apiKey string) (*models.Tenant, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, utils.ErrUnauthorized
	}

	tenant, err := s.store.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrTenantNotFound
		}
		return nil, utils.WrapAPIError(err, utils.ErrDatabaseQuery)
	}
	if !tenant.IsActive {
		return nil, utils.ErrTenantInactive
	}
	return tenant, nil
}

func (s *TenantService) UpdateTier(ctx context.Context, id string, tier models.Tier) error {
	if !tier.Valid() {
		return utils.NewAPIErrorWithDetails(utils.ErrInvalidRequest.Code, utils.ErrInvalidRequest.Message, "unknown tier "+string(tier))
	}
	if err := s.store.UpdateTier(ctx, id, tier); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrNotFound
		}
		return utils.WrapAPIError(err, utils.ErrDatabaseQuery)
	}
	return nil
}

// invalidRequest turns validator failures into a 400 naming each field.
func invalidRequest(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return utils.WrapAPIError(err, utils.ErrInvalidRequest)
	}
	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return utils.NewAPIErrorWithDetails(utils.ErrInvalidRequest.Code, utils.ErrInvalidRequest.Message, strings.Join(details, "; "))
}
