package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/providers"
	"github.com/malwarebo/pulse/stores"
	"github.com/malwarebo/pulse/testutil"
	"github.com/malwarebo/pulse/utils"
	"gorm.io/gorm"
)

const tenantID = "tenant-1"

type coordinatorEnv struct {
	db          *gorm.DB
	clock       *testutil.FakeClock
	cache       *stores.InsightCacheStore
	coordinator *InsightCoordinator
	calls       *atomic.Int32
}

// rankingProvider ranks every lead it is given in input order.
func rankingProvider(calls *atomic.Int32) providers.ProviderFunc {
	return func(ctx context.Context, req providers.InferenceRequest) (json.RawMessage, error) {
		calls.Add(1)
		var doc inferenceContext
		if err := json.Unmarshal([]byte(req.Context), &doc); err != nil {
			return nil, err
		}
		assessment := models.PriorityAssessment{
			PriorityLeads: []models.PriorityLead{},
			WarningLeads:  []models.WarningLead{},
			Summary:       fmt.Sprintf("%d leads reviewed", len(doc.Leads)),
		}
		for i, lead := range doc.Leads {
			if i == models.MaxPriorityLeads {
				break
			}
			assessment.PriorityLeads = append(assessment.PriorityLeads, models.PriorityLead{
				LeadID:            lead.ID,
				Rank:              i + 1,
				Urgency:           models.UrgencyHigh,
				Reason:            "recent",
				RecommendedAction: "call",
			})
		}
		return json.Marshal(assessment)
	}
}

func newCoordinatorEnv(t *testing.T, provider func(calls *atomic.Int32) providers.ProviderFunc) *coordinatorEnv {
	t.Helper()
	gdb := testutil.OpenTestDB(t)
	clock := testutil.NewFakeClock(testutil.BaseTime)
	calls := &atomic.Int32{}

	cache := stores.CreateInsightCacheStore(gdb, clock, stores.DefaultLockTTL)
	builder := CreateContextBuilder(stores.CreateLeadStore(gdb), clock, DefaultMaxLeads)
	inference := CreatePriorityInference(provider(calls), clock)

	return &coordinatorEnv{
		db:          gdb,
		clock:       clock,
		cache:       cache,
		coordinator: CreateInsightCoordinator(cache, builder, inference, clock, CoordinatorConfig{}),
		calls:       calls,
	}
}

func (e *coordinatorEnv) seedLeads(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		testutil.CreateLeads(t, e.db, testutil.MockLead(tenantID, fmt.Sprintf("lead%d", i), e.clock.Now().Add(-time.Duration(i+1)*time.Hour)))
	}
}

func (e *coordinatorEnv) get(t *testing.T, opts models.GetInsightOptions) *models.InsightResult {
	t.Helper()
	result, err := e.coordinator.GetInsight(context.Background(), tenantID, models.InsightTypeLeadPriority, opts)
	if err != nil {
		t.Fatalf("GetInsight() error = %v", err)
	}
	return result
}

func (e *coordinatorEnv) rowsWithStatus(t *testing.T, status models.CacheStatus) []models.CacheEntry {
	t.Helper()
	var rows []models.CacheEntry
	if err := e.db.Where("tenant_id = ? AND status = ?", tenantID, status).Find(&rows).Error; err != nil {
		t.Fatalf("load %s rows: %v", status, err)
	}
	return rows
}

func TestGetInsight_EmptyWorkspace(t *testing.T) {
	env := newCoordinatorEnv(t, rankingProvider)

	first := env.get(t, models.GetInsightOptions{})
	if first.ServedFrom != models.ServedFromFresh || first.Result == nil {
		t.Fatalf("first call = %+v, want fresh result", first)
	}
	if len(first.Result.PriorityLeads) != 0 || len(first.Result.WarningLeads) != 0 {
		t.Errorf("empty workspace produced leads: %+v", first.Result)
	}
	if first.Result.Summary != models.EmptyWorkspaceSummary {
		t.Errorf("Summary = %q", first.Result.Summary)
	}

	second := env.get(t, models.GetInsightOptions{})
	if second.ServedFrom != models.ServedFromCache {
		t.Errorf("second call served from %q, want cache", second.ServedFrom)
	}
	if second.Result == nil || second.Result.PriorityLeads == nil {
		t.Errorf("cached empty result lost its lists: %+v", second.Result)
	}
	if env.calls.Load() != 0 {
		t.Errorf("provider calls = %d, want 0 for an empty workspace", env.calls.Load())
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusValid)); n != 1 {
		t.Errorf("valid rows = %d, want 1", n)
	}
}

func TestGetInsight_GeneratesThenServesCache(t *testing.T) {
	env := newCoordinatorEnv(t, rankingProvider)
	env.seedLeads(t, 3)

	fresh := env.get(t, models.GetInsightOptions{Locale: "fr"})
	if fresh.ServedFrom != models.ServedFromFresh {
		t.Fatalf("first call = %+v, want fresh", fresh)
	}
	if fresh.Result.InputLeadCount != 3 || len(fresh.Result.PriorityLeads) != 3 {
		t.Errorf("Result = %+v, want 3 ranked leads", fresh.Result)
	}
	if fresh.ExpiresAt == nil || !fresh.ExpiresAt.Equal(testutil.BaseTime.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want now+1h", fresh.ExpiresAt)
	}

	env.clock.Advance(59 * time.Minute)
	cached := env.get(t, models.GetInsightOptions{})
	if cached.ServedFrom != models.ServedFromCache {
		t.Errorf("second call served from %q, want cache", cached.ServedFrom)
	}
	if cached.Result.Summary != fresh.Result.Summary {
		t.Errorf("cached summary = %q, want %q", cached.Result.Summary, fresh.Result.Summary)
	}
	if env.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", env.calls.Load())
	}
}

func TestGetInsight_ExpiredEntryRegenerates(t *testing.T) {
	env := newCoordinatorEnv(t, rankingProvider)
	env.seedLeads(t, 2)

	env.get(t, models.GetInsightOptions{})
	env.clock.Advance(time.Hour + time.Second)

	result := env.get(t, models.GetInsightOptions{})
	if result.ServedFrom != models.ServedFromFresh {
		t.Errorf("served from %q after expiry, want fresh", result.ServedFrom)
	}
	if env.calls.Load() != 2 {
		t.Errorf("provider calls = %d, want 2", env.calls.Load())
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusValid)); n != 1 {
		t.Errorf("valid rows = %d, want 1", n)
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusStale)); n != 1 {
		t.Errorf("stale rows = %d, want 1", n)
	}
}

func TestGetInsight_ForceRefreshBypassesCache(t *testing.T) {
	env := newCoordinatorEnv(t, rankingProvider)
	env.seedLeads(t, 1)

	env.get(t, models.GetInsightOptions{})
	env.clock.Advance(time.Minute)

	refreshed := env.get(t, models.GetInsightOptions{ForceRefresh: true})
	if refreshed.ServedFrom != models.ServedFromFresh {
		t.Errorf("served from %q, want fresh", refreshed.ServedFrom)
	}
	if env.calls.Load() != 2 {
		t.Errorf("provider calls = %d, want 2", env.calls.Load())
	}
}

func TestGetInsight_ReportsGeneratingWhileLocked(t *testing.T) {
	env := newCoordinatorEnv(t, rankingProvider)
	env.seedLeads(t, 1)

	if _, err := env.cache.AcquireGeneratingLock(context.Background(), tenantID, models.InsightTypeLeadPriority); err != nil {
		t.Fatalf("AcquireGeneratingLock() error = %v", err)
	}

	result := env.get(t, models.GetInsightOptions{ForceRefresh: true})
	if !result.Generating || result.Result != nil {
		t.Errorf("GetInsight() = %+v, want generating", result)
	}
	if env.calls.Load() != 0 {
		t.Errorf("provider calls = %d while locked, want 0", env.calls.Load())
	}
}

func TestGetInsight_AbandonedLockSelfHeals(t *testing.T) {
	env := newCoordinatorEnv(t, rankingProvider)
	env.seedLeads(t, 1)

	if _, err := env.cache.AcquireGeneratingLock(context.Background(), tenantID, models.InsightTypeLeadPriority); err != nil {
		t.Fatalf("AcquireGeneratingLock() error = %v", err)
	}
	if result := env.get(t, models.GetInsightOptions{}); !result.Generating {
		t.Fatalf("GetInsight() = %+v, want generating", result)
	}

	env.clock.Advance(stores.DefaultLockTTL + time.Second)

	result := env.get(t, models.GetInsightOptions{})
	if result.Generating || result.ServedFrom != models.ServedFromFresh {
		t.Errorf("GetInsight() after lock expiry = %+v, want fresh", result)
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusError)); n != 1 {
		t.Errorf("error rows = %d, want the abandoned lock closed out", n)
	}
}

func TestGetInsight_MalformedResponseRecordsError(t *testing.T) {
	env := newCoordinatorEnv(t, func(calls *atomic.Int32) providers.ProviderFunc {
		return func(ctx context.Context, req providers.InferenceRequest) (json.RawMessage, error) {
			calls.Add(1)
			return json.RawMessage(`{"priority_leads": [{"lead_id": 7}]}`), nil
		}
	})
	env.seedLeads(t, 2)

	result := env.get(t, models.GetInsightOptions{})
	if result.Error == "" || result.Result != nil || result.Generating {
		t.Fatalf("GetInsight() = %+v, want error", result)
	}

	errored := env.rowsWithStatus(t, models.CacheStatusError)
	if len(errored) != 1 || errored[0].ErrorMessage == "" {
		t.Errorf("error rows = %+v, want one with a message", errored)
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusValid)); n != 0 {
		t.Errorf("valid rows = %d, want 0", n)
	}

	locked, err := env.cache.IsLocked(context.Background(), tenantID, models.InsightTypeLeadPriority)
	if err != nil || locked {
		t.Errorf("IsLocked() = %v, %v after failure; want false, nil", locked, err)
	}
}

func TestGetInsight_DataUnavailableRecordsError(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	clock := testutil.NewFakeClock(testutil.BaseTime)
	cache := stores.CreateInsightCacheStore(gdb, clock, 0)
	builder := CreateContextBuilder(failingLeadReader{err: errors.New("replica down")}, clock, 0)
	coordinator := CreateInsightCoordinator(cache, builder, CreatePriorityInference(providers.CreateStaticProvider(nil), clock), clock, CoordinatorConfig{})

	result, err := coordinator.GetInsight(context.Background(), tenantID, models.InsightTypeLeadPriority, models.GetInsightOptions{})
	if err != nil {
		t.Fatalf("GetInsight() error = %v", err)
	}
	if result.Error == "" {
		t.Fatalf("GetInsight() = %+v, want error", result)
	}

	history, err := cache.History(context.Background(), tenantID, models.InsightTypeLeadPriority, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Status != models.CacheStatusError {
		t.Errorf("history = %+v, want a single error row", history)
	}
}

func TestGetInsight_UnsupportedType(t *testing.T) {
	env := newCoordinatorEnv(t, rankingProvider)

	for _, insightType := range []models.InsightType{models.InsightTypePipelineHealth, "bogus"} {
		_, err := env.coordinator.GetInsight(context.Background(), tenantID, insightType, models.GetInsightOptions{})
		if !errors.Is(err, utils.ErrUnsupportedInsightType) {
			t.Errorf("GetInsight(%s) error = %v, want ErrUnsupportedInsightType", insightType, err)
		}
	}

	var rows int64
	env.db.Model(&models.CacheEntry{}).Count(&rows)
	if rows != 0 {
		t.Errorf("cache rows = %d, want none for unsupported types", rows)
	}
}

func TestGetInsight_ConcurrentCallersGenerateOnce(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	env := newCoordinatorEnv(t, func(calls *atomic.Int32) providers.ProviderFunc {
		rank := rankingProvider(calls)
		return func(ctx context.Context, req providers.InferenceRequest) (json.RawMessage, error) {
			once.Do(func() { close(entered) })
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return rank(ctx, req)
		}
	})
	env.seedLeads(t, 2)

	// The first caller gives up while its generation is in flight.
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	type outcome struct {
		result *models.InsightResult
		err    error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		result, err := env.coordinator.GetInsight(firstCtx, tenantID, models.InsightTypeLeadPriority, models.GetInsightOptions{})
		firstDone <- outcome{result, err}
	}()

	select {
	case <-entered:
	case <-time.After(10 * time.Second):
		t.Fatal("first caller never reached the provider")
	}
	cancelFirst()

	second := env.get(t, models.GetInsightOptions{})
	if !second.Generating {
		t.Errorf("second caller = %+v, want generating", second)
	}
	refresh := env.get(t, models.GetInsightOptions{ForceRefresh: true})
	if !refresh.Generating {
		t.Errorf("refreshing caller = %+v, want generating", refresh)
	}

	close(release)
	first := <-firstDone
	if first.err != nil {
		t.Fatalf("first caller error = %v", first.err)
	}
	if first.result.ServedFrom != models.ServedFromFresh {
		t.Errorf("first caller = %+v, want fresh despite cancellation", first.result)
	}

	third := env.get(t, models.GetInsightOptions{})
	if third.ServedFrom != models.ServedFromCache {
		t.Errorf("third caller served from %q, want cache", third.ServedFrom)
	}
	if env.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", env.calls.Load())
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusValid)); n != 1 {
		t.Errorf("valid rows = %d, want 1", n)
	}
}

func TestGetInsight_ParallelFirstCallers(t *testing.T) {
	env := newCoordinatorEnv(t, rankingProvider)
	env.seedLeads(t, 2)

	const callers = 8
	var (
		wg    sync.WaitGroup
		fresh atomic.Int32
	)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.coordinator.GetInsight(context.Background(), tenantID, models.InsightTypeLeadPriority, models.GetInsightOptions{})
			if err != nil {
				errs <- err
				return
			}
			if result.Error != "" {
				errs <- errors.New(result.Error)
				return
			}
			if result.ServedFrom == models.ServedFromFresh {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("caller error = %v", err)
	}

	// A caller that starts after another finished may legitimately generate
	// again; every generation must still leave exactly one valid row.
	if fresh.Load() < 1 || fresh.Load() != env.calls.Load() {
		t.Errorf("fresh results = %d, provider calls = %d; want equal and non-zero", fresh.Load(), env.calls.Load())
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusValid)); n != 1 {
		t.Errorf("valid rows = %d, want 1", n)
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusStale)); int32(n) != env.calls.Load()-1 {
		t.Errorf("stale rows = %d, want %d", n, env.calls.Load()-1)
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusGenerating)); n != 0 {
		t.Errorf("generating rows = %d, want 0", n)
	}
}

func TestGetInsight_OverrunAttemptLeavesNewerLockAlone(t *testing.T) {
	var (
		env      *coordinatorEnv
		takeover *models.CacheEntry
	)
	env = newCoordinatorEnv(t, func(calls *atomic.Int32) providers.ProviderFunc {
		rank := rankingProvider(calls)
		return func(ctx context.Context, req providers.InferenceRequest) (json.RawMessage, error) {
			if takeover == nil {
				// The attempt outlives its lock and another caller starts over.
				env.clock.Advance(stores.DefaultLockTTL + time.Second)
				lock, err := env.cache.AcquireGeneratingLock(context.Background(), tenantID, models.InsightTypeLeadPriority)
				if err != nil {
					return nil, err
				}
				takeover = lock
			}
			return rank(ctx, req)
		}
	})
	env.seedLeads(t, 2)

	result := env.get(t, models.GetInsightOptions{})
	if result.ServedFrom != models.ServedFromFresh {
		t.Fatalf("GetInsight() = %+v, want fresh", result)
	}

	var newer models.CacheEntry
	if err := env.db.First(&newer, "id = ?", takeover.ID).Error; err != nil {
		t.Fatalf("load newer lock: %v", err)
	}
	if newer.Status != models.CacheStatusGenerating {
		t.Errorf("newer lock status = %s, want generating", newer.Status)
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusValid)); n != 1 {
		t.Errorf("valid rows = %d, want 1", n)
	}
	if n := len(env.rowsWithStatus(t, models.CacheStatusError)); n != 1 {
		t.Errorf("error rows = %d, want the overrun lock closed out", n)
	}
}
