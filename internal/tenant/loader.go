package tenant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/matchrank/internal/ranking"
	"github.com/onnwee/matchrank/internal/validate"
)

// ErrInvalidTenantID is returned for an empty or malformed tenant ID.
var ErrInvalidTenantID = errors.New("invalid tenant id")

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Source is required.
	Source Source
	// Cache is optional. Cache failures never fail a lookup.
	Cache Cache
	// Calibration is the base every tenant blob is layered onto. Nil uses
	// ranking.DefaultConfig.
	Calibration *ranking.RankingConfig
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Loader resolves tenant ranking configurations: cache, then source, then
// parse onto the calibration.
type Loader struct {
	source      Source
	cache       Cache
	calibration *ranking.RankingConfig
	logger      *slog.Logger
	metrics     *Metrics
}

// NewLoader creates a Loader.
func NewLoader(cfg LoaderConfig) *Loader {
	calibration := cfg.Calibration
	if calibration == nil {
		calibration = ranking.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		source:      cfg.Source,
		cache:       cfg.Cache,
		calibration: calibration.Clone(),
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// Calibration returns a copy of the base configuration.
func (l *Loader) Calibration() *ranking.RankingConfig {
	return l.calibration.Clone()
}

// RankingConfig returns the tenant's resolved configuration. Errors wrap
// ErrTenantNotFound, ranking.ErrInvalidConfig or the source failure.
func (l *Loader) RankingConfig(ctx context.Context, tenantID string) (*ranking.RankingConfig, error) {
	if err := validate.TenantID(tenantID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTenantID, err)
	}

	blob, err := l.blob(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			l.metrics.incLoadError(reasonNotFound)
		} else {
			l.metrics.incLoadError(reasonSource)
		}
		return nil, err
	}

	if isEmptyBlob(blob) {
		return l.calibration.Clone(), nil
	}

	cfg, err := ranking.ParseTenantConfig(blob, l.calibration)
	if err != nil {
		l.metrics.incLoadError(reasonInvalid)
		l.logger.WarnContext(ctx, "tenant ranking config rejected",
			"tenant_id", tenantID,
			"error", err)
		return nil, fmt.Errorf("tenant %q: %w", tenantID, err)
	}
	return cfg, nil
}

// Invalidate drops the cached blob so the next lookup reads the source.
// Call after an admin saves new settings.
func (l *Loader) Invalidate(ctx context.Context, tenantID string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(ctx, tenantID)
}

func (l *Loader) blob(ctx context.Context, tenantID string) ([]byte, error) {
	if l.cache != nil {
		blob, ok, err := l.cache.Get(ctx, tenantID)
		switch {
		case err != nil:
			l.metrics.incLookup(cacheError)
			l.logger.WarnContext(ctx, "tenant config cache unavailable, reading source",
				"tenant_id", tenantID,
				"error", err)
		case ok:
			l.metrics.incLookup(cacheHit)
			return blob, nil
		default:
			l.metrics.incLookup(cacheMiss)
		}
	}

	blob, err := l.source.RankingConfigBlob(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, tenantID, blob); err != nil {
			l.logger.WarnContext(ctx, "failed to cache tenant config",
				"tenant_id", tenantID,
				"error", err)
		}
	}
	return blob, nil
}

// isEmptyBlob reports whether blob carries no settings at all.
func isEmptyBlob(blob []byte) bool {
	b := bytes.TrimSpace(blob)
	return len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte("{}"))
}
