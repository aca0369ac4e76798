package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultGenerationTimeout = 2 * time.Minute
	lockResolveTimeout       = 10 * time.Second
)

// InsightCache is the cache store surface the coordinator drives.
type InsightCache interface {
	IsLocked(ctx context.Context, tenantID string, insightType models.InsightType) (bool, error)
	ReadValid(ctx context.Context, tenantID string, insightType models.InsightType) (*models.CacheEntry, error)
	AcquireGeneratingLock(ctx context.Context, tenantID string, insightType models.InsightType) (*models.CacheEntry, error)
	WriteValid(ctx context.Context, tenantID string, insightType models.InsightType, lockID string, payload []byte) (*models.CacheEntry, error)
	ResolveLock(ctx context.Context, tenantID string, insightType models.InsightType, lockID string, outcome error) error
}

type WorkspaceContextBuilder interface {
	Build(ctx context.Context, tenantID string) ([]models.LeadSnapshot, models.WorkspaceStats, error)
}

type PriorityGenerator interface {
	Generate(ctx context.Context, snapshots []models.LeadSnapshot, stats models.WorkspaceStats, locale string) (*models.PriorityResult, error)
}

type CoordinatorConfig struct {
	GenerationTimeout time.Duration
}

// InsightCoordinator decides between serving the cache, reporting an
// in-flight generation and generating. It holds no state of its own; the
// cache store is the only synchronization point between callers.
type InsightCoordinator struct {
	cache             InsightCache
	contexts          WorkspaceContextBuilder
	generator         PriorityGenerator
	clock             utils.Clock
	generationTimeout time.Duration
	tracer            trace.Tracer
	logger            *utils.Logger
}

func CreateInsightCoordinator(cache InsightCache, contexts WorkspaceContextBuilder, generator PriorityGenerator, clock utils.Clock, cfg CoordinatorConfig) *InsightCoordinator {
	if clock == nil {
		clock = utils.SystemClock
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	return &InsightCoordinator{
		cache:             cache,
		contexts:          contexts,
		generator:         generator,
		clock:             clock,
		generationTimeout: cfg.GenerationTimeout,
		tracer:            otel.Tracer("github.com/malwarebo/pulse/services"),
		logger:            utils.CreateLogger("insights"),
	}
}

func (c *InsightCoordinator) Supports(insightType models.InsightType) bool {
	return insightType == models.InsightTypeLeadPriority
}

// GetInsight never waits on another caller's generation. Storage failures
// while checking or locking are returned as errors; failures of the
// generation attempt itself are recorded on the lock row and reported in
// InsightResult.Error.
func (c *InsightCoordinator) GetInsight(ctx context.Context, tenantID string, insightType models.InsightType, opts models.GetInsightOptions) (*models.InsightResult, error) {
	if !c.Supports(insightType) {
		if !insightType.Valid() {
			return nil, utils.WrapAPIError(models.ErrUnknownInsightType, utils.ErrUnsupportedInsightType)
		}
		return nil, utils.ErrUnsupportedInsightType
	}

	ctx = utils.WithTenantID(ctx, tenantID)
	ctx, span := c.tracer.Start(ctx, "insights.get", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("insight.type", insightType.String()),
		attribute.Bool("insight.force_refresh", opts.ForceRefresh),
	))
	defer span.End()

	locked, err := c.cache.IsLocked(ctx, tenantID, insightType)
	if err != nil {
		return nil, c.storageFailure(span, err)
	}
	if locked {
		span.SetAttributes(attribute.String("insight.outcome", "generating"))
		return &models.InsightResult{Generating: true}, nil
	}

	if !opts.ForceRefresh {
		entry, err := c.cache.ReadValid(ctx, tenantID, insightType)
		if err != nil {
			return nil, c.storageFailure(span, err)
		}
		if entry != nil {
			result, err := decodePriorityPayload(entry)
			if err != nil {
				return nil, c.storageFailure(span, err)
			}
			span.SetAttributes(attribute.String("insight.outcome", "cache"))
			return &models.InsightResult{
				Result:      result,
				ServedFrom:  models.ServedFromCache,
				GeneratedAt: entry.GeneratedAt,
				ExpiresAt:   &entry.ExpiresAt,
			}, nil
		}
	}

	lock, err := c.cache.AcquireGeneratingLock(ctx, tenantID, insightType)
	if err != nil {
		if errors.Is(err, utils.ErrLockContention) {
			c.logger.Debug(ctx, "Lost generating lock race", map[string]interface{}{
				"insight_type": insightType.String(),
			})
			span.SetAttributes(attribute.String("insight.outcome", "generating"))
			return &models.InsightResult{Generating: true}, nil
		}
		return nil, c.storageFailure(span, err)
	}

	// The attempt outlives the caller: other callers are already being told
	// a generation is in progress.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.generationTimeout)
	defer cancel()

	return c.generate(genCtx, span, tenantID, insightType, lock.ID, opts.Locale)
}

// generate runs one attempt under lockID, the generating row this caller
// inserted. Every write and resolution targets that row only.
func (c *InsightCoordinator) generate(ctx context.Context, span trace.Span, tenantID string, insightType models.InsightType, lockID, locale string) (*models.InsightResult, error) {
	started := c.clock.Now()

	snapshots, stats, err := c.contexts.Build(ctx, tenantID)
	if err != nil {
		return c.fail(ctx, span, tenantID, insightType, lockID, err, started), nil
	}

	var result *models.PriorityResult
	if len(snapshots) == 0 {
		result = models.EmptyPriorityResult(c.clock.Now())
	} else {
		result, err = c.generator.Generate(ctx, snapshots, stats, locale)
		if err != nil {
			return c.fail(ctx, span, tenantID, insightType, lockID, err, started), nil
		}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return c.fail(ctx, span, tenantID, insightType, lockID, fmt.Errorf("failed to encode insight result: %w", err), started), nil
	}

	entry, err := c.cache.WriteValid(ctx, tenantID, insightType, lockID, payload)
	if err != nil {
		c.resolveFailure(ctx, tenantID, insightType, lockID, err)
		return nil, c.storageFailure(span, err)
	}

	span.SetAttributes(
		attribute.String("insight.outcome", "fresh"),
		attribute.Int("insight.input_leads", result.InputLeadCount),
	)
	c.logger.Info(ctx, "Insight generated", map[string]interface{}{
		"insight_type": insightType.String(),
		"input_leads":  result.InputLeadCount,
		"priority":     len(result.PriorityLeads),
		"warnings":     len(result.WarningLeads),
		"duration_ms":  c.clock.Now().Sub(started).Milliseconds(),
	})

	return &models.InsightResult{
		Result:      result,
		ServedFrom:  models.ServedFromFresh,
		GeneratedAt: entry.GeneratedAt,
		ExpiresAt:   &entry.ExpiresAt,
	}, nil
}

func (c *InsightCoordinator) fail(ctx context.Context, span trace.Span, tenantID string, insightType models.InsightType, lockID string, cause error, started time.Time) *models.InsightResult {
	c.resolveFailure(ctx, tenantID, insightType, lockID, cause)

	span.RecordError(cause)
	span.SetStatus(codes.Error, "generation failed")
	span.SetAttributes(attribute.String("insight.outcome", "error"))
	c.logger.Warn(ctx, "Insight generation failed", map[string]interface{}{
		"insight_type": insightType.String(),
		"error":        cause.Error(),
		"duration_ms":  c.clock.Now().Sub(started).Milliseconds(),
	})

	return &models.InsightResult{Error: cause.Error()}
}

// resolveFailure records the failure on the lock row. It runs on its own
// deadline so a generation that timed out can still be closed out.
func (c *InsightCoordinator) resolveFailure(ctx context.Context, tenantID string, insightType models.InsightType, lockID string, cause error) {
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockResolveTimeout)
	defer cancel()

	if err := c.cache.ResolveLock(resolveCtx, tenantID, insightType, lockID, cause); err != nil {
		utils.LogError(resolveCtx, err, "Failed to resolve generating lock", map[string]interface{}{
			"insight_type": insightType.String(),
		})
	}
}

func (c *InsightCoordinator) storageFailure(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "storage failure")
	return utils.WrapAPIError(err, utils.ErrDatabaseQuery)
}

func decodePriorityPayload(entry *models.CacheEntry) (*models.PriorityResult, error) {
	var result models.PriorityResult
	if err := json.Unmarshal(entry.Payload, &result); err != nil {
		return nil, fmt.Errorf("cache entry %s has an unreadable payload: %w", entry.ID, err)
	}
	return &result, nil
}
