package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/stores"
	"github.com/malwarebo/pulse/testutil"
	"github.com/malwarebo/pulse/utils"
)

func newTenantService(t *testing.T) *TenantService {
	t.Helper()
	return CreateTenantService(stores.CreateTenantStore(testutil.OpenTestDB(t)))
}

func TestTenantService_Create(t *testing.T) {
	service := newTenantService(t)
	ctx := context.Background()

	tenant, err := service.Create(ctx, &models.CreateTenantRequest{Name: "  Acme  ", Locale: "fr-CA"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if tenant.Name != "Acme" || tenant.Tier != models.TierFree || tenant.Locale != "fr-CA" {
		t.Errorf("Create() = %+v, want trimmed name on the free tier", tenant)
	}
	if tenant.APIKey == "" || !tenant.IsActive {
		t.Errorf("Create() = %+v, want an active tenant with a key", tenant)
	}

	loaded, err := service.GetByID(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if loaded.APIKey != tenant.APIKey {
		t.Errorf("GetByID() key = %q, want %q", loaded.APIKey, tenant.APIKey)
	}

	if _, err := service.GetByID(ctx, "missing"); !errors.Is(err, utils.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTenantService_CreateRejectsInvalidRequests(t *testing.T) {
	service := newTenantService(t)

	tests := []struct {
		name       string
		req        models.CreateTenantRequest
		wantDetail string
	}{
		{name: "blank name", req: models.CreateTenantRequest{Name: "   "}, wantDetail: "name failed required"},
		{name: "name too long", req: models.CreateTenantRequest{Name: strings.Repeat("a", 256)}, wantDetail: "name failed max"},
		{name: "unknown tier", req: models.CreateTenantRequest{Name: "Acme", Tier: "platinum"}, wantDetail: "tier failed oneof"},
		{name: "bad locale", req: models.CreateTenantRequest{Name: "Acme", Locale: "not a locale"}, wantDetail: "locale failed bcp47_language_tag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(context.Background(), &tt.req)
			if utils.GetHTTPStatusFromError(err) != http.StatusBadRequest {
				t.Fatalf("Create() error = %v, want a 400", err)
			}
			var apiErr *utils.APIError
			if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Details, tt.wantDetail) {
				t.Errorf("Create() details = %v, want %q", err, tt.wantDetail)
			}
		})
	}
}

func TestTenantService_UpdateTier(t *testing.T) {
	service := newTenantService(t)
	ctx := context.Background()

	tenant, err := service.Create(ctx, &models.CreateTenantRequest{Name: "Acme"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := service.UpdateTier(ctx, tenant.ID, models.TierPro); err != nil {
		t.Fatalf("UpdateTier() error = %v", err)
	}

	authed, err := service.Authenticate(ctx, tenant.APIKey)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if authed.Tier != models.TierPro {
		t.Errorf("tier = %s, want pro", authed.Tier)
	}

	if err := service.UpdateTier(ctx, tenant.ID, "platinum"); utils.GetHTTPStatusFromError(err) != http.StatusBadRequest {
		t.Errorf("UpdateTier(platinum) error = %v, want a 400", err)
	}
}
