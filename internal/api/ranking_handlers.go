package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/matchrank/internal/geo"
	"github.com/onnwee/matchrank/internal/middleware"
	"github.com/onnwee/matchrank/internal/ranking"
	"github.com/onnwee/matchrank/internal/tenant"
	"github.com/onnwee/matchrank/internal/tiers"
	"github.com/onnwee/matchrank/internal/tracing"
	"github.com/onnwee/matchrank/internal/validate"
)

// Request limits and defaults.
const (
	MaxRankRequestBytes  = 8 << 20
	DefaultRankTimeout   = 2 * time.Second
	DefaultLimit         = 50
	DefaultMaxCandidates = 5000
	MaxGeohashPrecision  = geo.MaxPrecision
)

// ConfigLoader resolves a tenant's ranking configuration.
type ConfigLoader interface {
	RankingConfig(ctx context.Context, tenantID string) (*ranking.RankingConfig, error)
}

// MemberRecorder receives the member records seen by a member ranking so the
// tier job can recompute them later.
type MemberRecorder interface {
	Put(tenantID string, c ranking.Candidate)
}

// RankRequest is the body of the rank endpoints.
type RankRequest struct {
	Viewer     ranking.ViewerContext `json:"viewer"`
	Candidates []ranking.Candidate   `json:"candidates"`
	// Limit truncates the result. Zero uses the server default.
	Limit int `json:"limit,omitempty"`
	// Now is the evaluation instant. Zero uses the server clock.
	Now time.Time `json:"now,omitzero"`
	// EngagementSamples is recent raw engagement for the listing normalizer.
	EngagementSamples []float64 `json:"engagement_samples,omitempty"`
	// MaxPerBucket overrides the tenant's diversity cap; negative disables it.
	MaxPerBucket int `json:"max_per_bucket,omitempty"`
	// GeohashPrecision buckets candidates without a bucket by geohash cell.
	GeohashPrecision int `json:"geohash_precision,omitempty"`
}

// RankResponse is the body returned by the rank endpoints.
type RankResponse struct {
	TenantID          string           `json:"tenant_id"`
	EvaluatedAt       time.Time        `json:"evaluated_at"`
	Candidates        int              `json:"candidates"`
	WeightsUnbalanced bool             `json:"weights_unbalanced"`
	Results           []ranking.Result `json:"results"`
}

// ConfigResponse is the body of the ranking config preview.
type ConfigResponse struct {
	TenantID string                 `json:"tenant_id"`
	Config   *ranking.RankingConfig `json:"config"`
	Weights  ranking.WeightReport   `json:"weights"`
}

// MemberTierResponse is a stored tier snapshot plus whether it is due for
// recomputation. The snapshot is scored without a viewer, so its tier can
// differ from the tier rank/members returns for the same member, which
// includes the requesting viewer's connectivity and distance.
type MemberTierResponse struct {
	tiers.MemberTier
	Stale bool `json:"stale"`
}

// RankingHandlersConfig configures RankingHandlers.
type RankingHandlersConfig struct {
	Engine  *ranking.Engine
	Configs ConfigLoader

	// Tier snapshot wiring. All optional; without Tiers the tier endpoint
	// always answers 404.
	Tiers   tiers.Store
	Members MemberRecorder
	Dirty   *tiers.DirtyTracker

	Timeout       time.Duration
	DefaultLimit  int
	MaxCandidates int
	Logger        *slog.Logger
	Now           func() time.Time
}

// RankingHandlers serves the ranking endpoints.
type RankingHandlers struct {
	engine        *ranking.Engine
	configs       ConfigLoader
	tiers         tiers.Store
	members       MemberRecorder
	dirty         *tiers.DirtyTracker
	timeout       time.Duration
	defaultLimit  int
	maxCandidates int
	logger        *slog.Logger
	now           func() time.Time
}

// NewRankingHandlers creates RankingHandlers.
func NewRankingHandlers(cfg RankingHandlersConfig) *RankingHandlers {
	h := &RankingHandlers{
		engine:        cfg.Engine,
		configs:       cfg.Configs,
		tiers:         cfg.Tiers,
		members:       cfg.Members,
		dirty:         cfg.Dirty,
		timeout:       cfg.Timeout,
		defaultLimit:  cfg.DefaultLimit,
		maxCandidates: cfg.MaxCandidates,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
	if h.engine == nil {
		h.engine = ranking.NewEngine(ranking.EngineConfig{Logger: cfg.Logger})
	}
	if h.timeout <= 0 {
		h.timeout = DefaultRankTimeout
	}
	if h.defaultLimit <= 0 {
		h.defaultLimit = DefaultLimit
	}
	if h.maxCandidates <= 0 {
		h.maxCandidates = DefaultMaxCandidates
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Register mounts the ranking routes on mux.
func (h *RankingHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/tenants/{tenant}/rank/listings", h.RankListings)
	mux.HandleFunc("POST /v1/tenants/{tenant}/rank/members", h.RankMembers)
	mux.HandleFunc("GET /v1/tenants/{tenant}/ranking/config", h.GetConfig)
	mux.HandleFunc("GET /v1/tenants/{tenant}/members/{member}/tier", h.GetMemberTier)
}

type rankFunc func(ctx context.Context, cfg *ranking.RankingConfig, viewer *ranking.ViewerContext, candidates []ranking.Candidate, opts ranking.Options) ([]ranking.Result, error)

// RankListings handles POST /v1/tenants/{tenant}/rank/listings.
func (h *RankingHandlers) RankListings(w http.ResponseWriter, r *http.Request) {
	h.rank(w, r, ranking.KindListings, h.engine.RankListings)
}

// RankMembers handles POST /v1/tenants/{tenant}/rank/members. Every ranked
// member is also queued for a tier snapshot refresh.
func (h *RankingHandlers) RankMembers(w http.ResponseWriter, r *http.Request) {
	h.rank(w, r, ranking.KindMembers, h.engine.RankMembers)
}

func (h *RankingHandlers) rank(w http.ResponseWriter, r *http.Request, kind string, rankFn rankFunc) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req RankRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxRankRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r.Context(), http.StatusRequestEntityTooLarge, ErrCodeValidation, "Request body too large")
			return
		}
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if err := h.validate(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cfg, ok := h.loadConfig(ctx, w, r, tenantID)
	if !ok {
		return
	}

	opts := ranking.Options{
		Now:               req.Now,
		Limit:             req.Limit,
		MaxPerBucket:      req.MaxPerBucket,
		EngagementSamples: req.EngagementSamples,
	}
	if opts.Now.IsZero() {
		opts.Now = h.now()
	}
	if opts.Limit == 0 {
		opts.Limit = h.defaultLimit
	}
	if req.GeohashPrecision > 0 {
		opts.Bucket = ranking.GeohashBucket(req.GeohashPrecision)
	}

	results, err := rankFn(ctx, cfg, &req.Viewer, req.Candidates, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.logger.WarnContext(ctx, "ranking timed out",
				"tenant_id", tenantID,
				"type", kind,
				"candidates", len(req.Candidates),
				"timeout", h.timeout)
			WriteError(w, r.Context(), http.StatusGatewayTimeout, ErrCodeTimeout, "Ranking timed out")
			return
		}
		h.logger.ErrorContext(ctx, "ranking failed", "tenant_id", tenantID, "type", kind, "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Ranking failed")
		return
	}

	if kind == ranking.KindMembers {
		h.recordMembers(tenantID, req.Candidates)
	}

	weights := cfg.Listings.Weights
	if kind == ranking.KindMembers {
		weights = cfg.Members.Weights
	}
	writeJSON(w, r.Context(), http.StatusOK, RankResponse{
		TenantID:          tenantID,
		EvaluatedAt:       opts.Now.UTC(),
		Candidates:        len(req.Candidates),
		WeightsUnbalanced: weights.Unbalanced(),
		Results:           results,
	})
}

// GetConfig handles GET /v1/tenants/{tenant}/ranking/config, returning the
// resolved configuration and its weight balance for admin previews.
func (h *RankingHandlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cfg, ok := h.loadConfig(ctx, w, r, tenantID)
	if !ok {
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, ConfigResponse{
		TenantID: tenantID,
		Config:   cfg,
		Weights:  cfg.WeightReport(),
	})
}

// GetMemberTier handles GET /v1/tenants/{tenant}/members/{member}/tier.
func (h *RankingHandlers) GetMemberTier(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	memberID := r.PathValue("member")
	if err := validate.ID(memberID); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid member ID: "+err.Error())
		return
	}
	key := tiers.MemberKey{TenantID: tenantID, MemberID: memberID}

	if h.tiers == nil {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Tier not computed")
		return
	}
	snapshot, err := h.tiers.GetTier(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load tier snapshot", "member", key.String(), "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to load tier")
		return
	}
	if snapshot == nil {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Tier not computed")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, MemberTierResponse{
		MemberTier: *snapshot,
		Stale:      h.dirty != nil && h.dirty.IsDirty(key),
	})
}

func (h *RankingHandlers) tenantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.PathValue("tenant")
	if err := validate.TenantID(tenantID); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid tenant ID: "+err.Error())
		return "", false
	}
	middleware.SetTenantID(r.Context(), tenantID)
	tracing.SetAttributes(r.Context(), attribute.String("tenant.id", tenantID))
	return tenantID, true
}

// loadConfig resolves the tenant config, writing the error response itself
// when it fails.
func (h *RankingHandlers) loadConfig(ctx context.Context, w http.ResponseWriter, r *http.Request, tenantID string) (*ranking.RankingConfig, bool) {
	cfg, err := h.configs.RankingConfig(ctx, tenantID)
	if err == nil {
		return cfg, true
	}

	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Tenant not found")
	case errors.Is(err, tenant.ErrInvalidTenantID):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Tenant ID is required")
	case errors.Is(err, ranking.ErrInvalidConfig):
		WriteError(w, r.Context(), http.StatusUnprocessableEntity, ErrCodeInvalidConfig, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, r.Context(), http.StatusGatewayTimeout, ErrCodeTimeout, "Loading ranking config timed out")
	default:
		h.logger.ErrorContext(ctx, "failed to load ranking config", "tenant_id", tenantID, "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to load ranking config")
	}
	return nil, false
}

func (h *RankingHandlers) validate(req *RankRequest) error {
	if req.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	if len(req.Candidates) > h.maxCandidates {
		return fmt.Errorf("at most %d candidates per request", h.maxCandidates)
	}
	if req.GeohashPrecision < 0 || req.GeohashPrecision > MaxGeohashPrecision {
		return fmt.Errorf("geohash_precision must be between 0 and %d", MaxGeohashPrecision)
	}
	if req.Viewer.Location != nil && !req.Viewer.Location.Valid() {
		return errors.New("viewer location is out of range")
	}
	seen := make(map[string]struct{}, len(req.Candidates))
	for i := range req.Candidates {
		c := &req.Candidates[i]
		if err := validate.ID(c.ID); err != nil {
			return fmt.Errorf("candidates[%d]: id: %w", i, err)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("candidates[%d]: duplicate id %s", i, c.ID)
		}
		seen[c.ID] = struct{}{}
		if err := validate.Label(c.Bucket); err != nil {
			return fmt.Errorf("candidate %s: bucket: %w", c.ID, err)
		}
		if err := validate.Label(c.Category); err != nil {
			return fmt.Errorf("candidate %s: category: %w", c.ID, err)
		}
		if c.Location != nil && !c.Location.Valid() {
			return fmt.Errorf("candidate %s: location is out of range", c.ID)
		}
	}
	for _, s := range req.EngagementSamples {
		if s < 0 {
			return errors.New("engagement_samples must not be negative")
		}
	}
	return nil
}

func (h *RankingHandlers) recordMembers(tenantID string, candidates []ranking.Candidate) {
	if h.members == nil {
		return
	}
	for _, c := range candidates {
		h.members.Put(tenantID, c)
		if h.dirty != nil {
			h.dirty.MarkDirty(tiers.MemberKey{TenantID: tenantID, MemberID: c.ID})
		}
	}
}
