package ranking

import (
	"time"
	"unicode/utf8"

	"github.com/onnwee/matchrank/internal/geo"
)

// Candidate is one listing or member being scored. Zero timestamps and nil
// coordinates mean "unknown"; factors that need them are left out of the
// composite instead of being scored as zero.
type Candidate struct {
	ID string `json:"id"`

	Location *geo.Point `json:"location,omitempty"`

	CreatedAt        time.Time `json:"created_at,omitzero"`
	UpdatedAt        time.Time `json:"updated_at,omitzero"`
	LastActiveAt     time.Time `json:"last_active_at,omitzero"`
	AccountCreatedAt time.Time `json:"account_created_at,omitzero"`

	Category          string `json:"category,omitempty"`
	Title             string `json:"title,omitempty"`
	Description       string `json:"description,omitempty"`
	DescriptionLength int    `json:"description_length,omitempty"` // overrides len(Description) when set

	HasImage        bool `json:"has_image,omitempty"`
	Verified        bool `json:"verified,omitempty"`
	ProfileComplete bool `json:"profile_complete,omitempty"`

	Views     int `json:"views,omitempty"`
	Inquiries int `json:"inquiries,omitempty"`
	Saves     int `json:"saves,omitempty"`

	ListingCount int     `json:"listing_count,omitempty"`
	HoursGiven   float64 `json:"hours_given,omitempty"`

	Offered   []string `json:"offered,omitempty"`
	Requested []string `json:"requested,omitempty"`
	Groups    []string `json:"groups,omitempty"`

	// Bucket is the diversity bucket (for example a county). Empty means
	// the candidate is never capped.
	Bucket string `json:"bucket,omitempty"`
}

// descriptionLength returns the explicit length if set, otherwise the rune
// count of Description.
func (c *Candidate) descriptionLength() int {
	if c.DescriptionLength > 0 {
		return c.DescriptionLength
	}
	return utf8.RuneCountInString(c.Description)
}

// ViewerContext describes who is asking for the ranking.
type ViewerContext struct {
	ID                  string     `json:"id,omitempty"`
	Location            *geo.Point `json:"location,omitempty"`
	Offered             []string   `json:"offered,omitempty"`
	Requested           []string   `json:"requested,omitempty"`
	Groups              []string   `json:"groups,omitempty"`
	PreferredCategories []string   `json:"preferred_categories,omitempty"`
	Query               string     `json:"query,omitempty"`
	InteractedWith      []string   `json:"interacted_with,omitempty"` // candidate IDs with past exchanges
}

// ScoringContext carries per-call inputs shared by every candidate.
type ScoringContext struct {
	// Now is the evaluation instant. Time decay is measured against it; the
	// engine never samples the wall clock itself.
	Now time.Time
	// EngagementNormalizer divides weighted engagement. Zero falls back to
	// the configured ceiling.
	EngagementNormalizer float64
}
