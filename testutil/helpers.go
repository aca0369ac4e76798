package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/malwarebo/pulse/db"
	"github.com/malwarebo/pulse/models"
	"gorm.io/gorm"
)

// BaseTime is a fixed, second-aligned instant used as "now" across tests.
var BaseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// OpenTestDB returns a migrated SQLite database private to the test.
func OpenTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pulse.db")
	database, err := db.CreateDB(context.Background(), db.Options{
		Driver:   db.DriverSQLite,
		DSN:      path + "?_busy_timeout=5000",
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := db.CreateSchemaMigrator(database.DB).Up(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return database.DB
}

func MockTenant(tier models.Tier) *models.Tenant {
	return &models.Tenant{
		Name:     "Acme Realty",
		APIKey:   "pk_test_" + string(tier),
		Tier:     tier,
		Locale:   "en-US",
		IsActive: true,
	}
}

func MockLead(tenantID, name string, createdAt time.Time) *models.Lead {
	return &models.Lead{
		TenantID:  tenantID,
		Name:      name,
		Email:     name + "@example.com",
		Source:    "website",
		Stage:     "new",
		Status:    "open",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func CreateLeads(t testing.TB, gdb *gorm.DB, leads ...*models.Lead) {
	t.Helper()
	for _, lead := range leads {
		if err := gdb.Create(lead).Error; err != nil {
			t.Fatalf("create lead %q: %v", lead.Name, err)
		}
	}
}

func Float(v float64) *float64 { return &v }

func Time(t time.Time) *time.Time { return &t }
