package ranking

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Section names in the tenant configuration blob.
const (
	listingSection = "match_rank"
	memberSection  = "community_rank"
)

const (
	weightKeyPrefix = "weight_"
	tiersKey        = "tiers"
	maxBlobSize     = 1024 * 1024 // 1MB
)

// ErrBlobTooLarge is returned for tenant blobs above maxBlobSize.
var ErrBlobTooLarge = errors.New("ranking config blob too large")

// ConfigBuilder layers configuration sources onto a base and produces a
// validated, fully populated RankingConfig. Defaults are applied here, once,
// so the engine never has to ask whether a key was present.
//
//	cfg, err := ranking.NewConfigBuilder(calibration).
//		FromJSON(tenantBlob).
//		Build()
type ConfigBuilder struct {
	cfg  *RankingConfig
	errs []error
}

// NewConfigBuilder starts from a copy of base, or from DefaultConfig when
// base is nil.
func NewConfigBuilder(base *RankingConfig) *ConfigBuilder {
	if base == nil {
		base = DefaultConfig()
	}
	return &ConfigBuilder{cfg: base.Clone()}
}

// FromJSON overlays a persisted tenant blob. The blob uses the flat admin
// form keys grouped under "match_rank" and "community_rank"; keys outside
// both sections are MatchRank keys, and the "match_rank" section wins when
// both set the same key. Absent keys and empty strings keep the current
// value. YAML is accepted as well.
func (b *ConfigBuilder) FromJSON(blob []byte) *ConfigBuilder {
	if len(blob) == 0 {
		return b
	}
	if len(blob) > maxBlobSize {
		b.errs = append(b.errs, fmt.Errorf("%d bytes: %w", len(blob), ErrBlobTooLarge))
		return b
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(blob), yaml.Parser()); err != nil {
		b.errs = append(b.errs, fmt.Errorf("failed to parse ranking config: %w", err))
		return b
	}
	b.apply(k)
	return b
}

// FromFile overlays a configuration file with the same layout as the tenant
// blob. Used for deploy-time calibration.
func (b *ConfigBuilder) FromFile(path string) *ConfigBuilder {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		b.errs = append(b.errs, fmt.Errorf("failed to load ranking config file %s: %w", path, err))
		return b
	}
	b.apply(k)
	return b
}

// WithListingWeight sets one MatchRank weight.
func (b *ConfigBuilder) WithListingWeight(f Factor, w float64) *ConfigBuilder {
	b.cfg.Listings.Weights[f] = w
	return b
}

// WithMemberWeight sets one CommunityRank weight.
func (b *ConfigBuilder) WithMemberWeight(f Factor, w float64) *ConfigBuilder {
	b.cfg.Members.Weights[f] = w
	return b
}

// Build validates the accumulated configuration. Every failure is joined
// into one error wrapping ErrInvalidConfig.
func (b *ConfigBuilder) Build() (*RankingConfig, error) {
	errs := append([]error(nil), b.errs...)
	errs = append(errs, b.cfg.Validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return b.cfg.Clone(), nil
}

func (b *ConfigBuilder) apply(k *koanf.Koanf) {
	if flat := topLevelKeys(k); flat != nil {
		b.applySection(listingSection, flat, b.cfg.Listings.Weights, listingFields(&b.cfg.Listings))
	}
	if k.Exists(listingSection) {
		sub := k.Cut(listingSection)
		b.applySection(listingSection, sub, b.cfg.Listings.Weights, listingFields(&b.cfg.Listings))
	}
	if k.Exists(memberSection) {
		sub := k.Cut(memberSection)
		b.applySection(memberSection, sub, b.cfg.Members.Weights, memberFields(&b.cfg.Members))
		if sub.Exists(tiersKey) {
			var tiers []TierThreshold
			if err := sub.Unmarshal(tiersKey, &tiers); err != nil {
				b.errs = append(b.errs, fmt.Errorf("%s.%s: %w", memberSection, tiersKey, err))
			} else {
				b.cfg.Members.Tiers = tiers
			}
		}
	}
}

// topLevelKeys collects the keys written outside any section. They are the
// MatchRank admin form in its flat layout and apply before the sections.
func topLevelKeys(k *koanf.Koanf) *koanf.Koanf {
	var flat *koanf.Koanf
	for key, val := range k.Raw() {
		if key == listingSection || key == memberSection {
			continue
		}
		if flat == nil {
			flat = koanf.New(".")
		}
		_ = flat.Set(key, val)
	}
	return flat
}

func (b *ConfigBuilder) applySection(section string, k *koanf.Koanf, weights Weights, fields map[string]any) {
	var unknown []string
	for _, key := range k.Keys() {
		if key == tiersKey && section == memberSection {
			continue
		}
		raw := k.Get(key)
		if isUnset(raw) {
			continue
		}

		if name, ok := strings.CutPrefix(key, weightKeyPrefix); ok {
			w, err := toFloat(raw)
			if err != nil {
				b.errs = append(b.errs, fmt.Errorf("%s.%s: %w", section, key, err))
				continue
			}
			weights[Factor(name)] = w
			continue
		}

		dst, ok := fields[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if err := assign(dst, raw); err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s.%s: %w", section, key, err))
		}
	}
	if len(unknown) > 0 {
		slog.Debug("ignoring unknown ranking config keys", "section", section, "keys", unknown)
	}
}

// listingFields maps MatchRank admin keys to the fields they set.
func listingFields(c *ListingConfig) map[string]any {
	return map[string]any{
		"diversity_max_per_bucket":  &c.MaxPerBucket,
		"relevance_enabled":         &c.Relevance.Enabled,
		"relevance_category_match":  &c.Relevance.CategoryMatch,
		"relevance_search_boost":    &c.Relevance.SearchBoost,
		"relevance_cap":             &c.Relevance.Cap,
		"freshness_enabled":         &c.Freshness.Enabled,
		"freshness_full_days":       &c.Freshness.FullScore,
		"freshness_half_life_days":  &c.Freshness.HalfLife,
		"freshness_minimum":         &c.Freshness.Minimum,
		"freshness_anchor":          &c.FreshnessAnchor,
		"engagement_enabled":        &c.Engagement.Enabled,
		"engagement_view_weight":    &c.Engagement.ViewWeight,
		"engagement_inquiry_weight": &c.Engagement.InquiryWeight,
		"engagement_save_weight":    &c.Engagement.SaveWeight,
		"engagement_ceiling":        &c.Engagement.Ceiling,
		"engagement_percentile":     &c.Engagement.Percentile,
		"geo_enabled":               &c.Geo.Enabled,
		"geo_full_radius_km":        &c.Geo.FullScore,
		"geo_half_life_km":          &c.Geo.HalfLife,
		"geo_minimum":               &c.Geo.Minimum,
		"quality_enabled":           &c.Quality.Enabled,
		"quality_description_min":   &c.Quality.DescriptionMin,
		"quality_description_boost": &c.Quality.DescriptionBoost,
		"quality_image_boost":       &c.Quality.ImageBoost,
		"quality_location_boost":    &c.Quality.LocationBoost,
		"quality_verified_boost":    &c.Quality.VerifiedBoost,
		"quality_cap":               &c.Quality.Cap,
		"reciprocity_enabled":       &c.Reciprocity.Enabled,
		"reciprocity_boost":         &c.Reciprocity.Boost,
	}
}

// memberFields maps CommunityRank admin keys to the fields they set.
func memberFields(c *MemberConfig) map[string]any {
	return map[string]any{
		"diversity_max_per_bucket":        &c.MaxPerBucket,
		"activity_enabled":                &c.Activity.Enabled,
		"activity_full_days":              &c.Activity.FullScore,
		"activity_half_life_days":         &c.Activity.HalfLife,
		"activity_minimum":                &c.Activity.Minimum,
		"contribution_enabled":            &c.Contribution.Enabled,
		"contribution_listing_points":     &c.Contribution.ListingPoints,
		"contribution_hours_multiplier":   &c.Contribution.HoursMultiplier,
		"contribution_max_score":          &c.Contribution.MaxScore,
		"reputation_enabled":              &c.Reputation.Enabled,
		"reputation_account_age_months":   &c.Reputation.AccountAgeMonths,
		"reputation_verified_boost":       &c.Reputation.VerifiedBoost,
		"reputation_profile_boost":        &c.Reputation.ProfileBoost,
		"reputation_cap":                  &c.Reputation.Cap,
		"connectivity_enabled":            &c.Connectivity.Enabled,
		"connectivity_shared_group_boost": &c.Connectivity.SharedGroupBoost,
		"connectivity_interaction_boost":  &c.Connectivity.InteractionBoost,
		"connectivity_cap":                &c.Connectivity.Cap,
		"geo_enabled":                     &c.Geo.Enabled,
		"geo_full_radius_km":              &c.Geo.FullScore,
		"geo_half_life_km":                &c.Geo.HalfLife,
		"geo_minimum":                     &c.Geo.Minimum,
		"complementary_enabled":           &c.Complementary.Enabled,
		"complementary_boost":             &c.Complementary.Boost,
	}
}

// isUnset treats null and blank strings as "keep the default". Admin forms
// persist untouched inputs that way.
func isUnset(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func assign(dst, raw any) error {
	switch p := dst.(type) {
	case *float64:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		*p = f
	case *int:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		if f != math.Trunc(f) {
			return fmt.Errorf("%v is not a whole number: %w", raw, ErrInvalidParameter)
		}
		*p = int(f)
	case *bool:
		v, err := toBool(raw)
		if err != nil {
			return err
		}
		*p = v
	case *FreshnessAnchor:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%v is not a string: %w", raw, ErrInvalidParameter)
		}
		*p = FreshnessAnchor(strings.ToLower(strings.TrimSpace(s)))
	default:
		return fmt.Errorf("unsupported field type %T", dst)
	}
	return nil
}

// toFloat accepts numbers and numeric strings.
func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number: %w", x, ErrInvalidParameter)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%v (%T) is not a number: %w", v, v, ErrInvalidParameter)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not finite: %w", v, ErrInvalidParameter)
	}
	return f, nil
}

// toBool accepts booleans, 0/1 and the usual checkbox spellings.
func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	}
	return false, fmt.Errorf("%v is not a boolean: %w", v, ErrInvalidParameter)
}

// ParseTenantConfig builds the configuration for one tenant: the persisted
// blob layered onto base (the calibration, or DefaultConfig when nil).
func ParseTenantConfig(blob []byte, base *RankingConfig) (*RankingConfig, error) {
	return NewConfigBuilder(base).FromJSON(blob).Build()
}

// LoadCalibration loads deploy-time defaults from a calibration file.
// If the path is empty the built-in defaults are returned. If the file can't
// be read or is invalid, defaults are returned together with the error so
// the caller can degrade gracefully.
func LoadCalibration(filePath string) (*RankingConfig, error) {
	defaults := DefaultConfig()
	if filePath == "" {
		return defaults, nil
	}

	cfg, err := NewConfigBuilder(defaults).FromFile(filePath).Build()
	if err != nil {
		slog.Warn("failed to load ranking calibration, using defaults",
			"path", filePath,
			"error", err)
		return defaults, fmt.Errorf("failed to load calibration file: %w", err)
	}

	logCalibrationOverrides(defaults, cfg)
	return cfg, nil
}

// logCalibrationOverrides logs which weights and tier bounds differ from
// the built-in defaults.
func logCalibrationOverrides(defaults, loaded *RankingConfig) {
	var overrides []string
	overrides = append(overrides, weightOverrides(listingSection, defaults.Listings.Weights, loaded.Listings.Weights)...)
	overrides = append(overrides, weightOverrides(memberSection, defaults.Members.Weights, loaded.Members.Weights)...)

	for i, th := range loaded.Members.Tiers {
		if i >= len(defaults.Members.Tiers) || defaults.Members.Tiers[i] != th {
			overrides = append(overrides, fmt.Sprintf("tiers.%s: %.2f", th.Tier, th.MinScore))
		}
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}

func weightOverrides(section string, defaults, loaded Weights) []string {
	var out []string
	factors := ListingFactors
	if section == memberSection {
		factors = MemberFactors
	}
	for _, f := range factors {
		if loaded[f] != defaults[f] {
			out = append(out, fmt.Sprintf("%s.weight_%s: %.2f -> %.2f", section, f, defaults[f], loaded[f]))
		}
	}
	return out
}
