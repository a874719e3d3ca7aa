package core

import "time"

// SchemaVersion is stamped on every typed list serialized to storage.
const SchemaVersion = 1

// DigestDateLayout is the calendar-date format used as the digest key.
const DigestDateLayout = "2006-01-02"

// ContentItem is a captured piece of content awaiting or past classification.
type ContentItem struct {
	ID             string     `json:"id"`              // Unique identifier (uuid)
	URL            string     `json:"url"`             // Source URL, may be empty for pasted text
	Title          string     `json:"title"`           // Title as captured
	RawText        string     `json:"raw_text"`        // Body text; immutable once captured
	CapturedAt     time.Time  `json:"captured_at"`     // Capture timestamp
	ContentHash    string     `json:"content_hash"`    // sha256 of normalized title+text, dedup key
	Category       string     `json:"category"`        // Empty until classified
	Status         ItemStatus `json:"status"`          // Processing status
	Confidence     float64    `json:"confidence"`      // Classifier confidence (0-1)
	ManualOverride bool       `json:"manual_override"` // Set when a human fixed the category
	UpdatedAt      time.Time  `json:"updated_at"`      // Last status change
}

// Classified reports whether the item carries a category.
func (c ContentItem) Classified() bool {
	return c.Category != ""
}

// ClassificationResult is one entry of the append-only classification audit log.
type ClassificationResult struct {
	ID          string    `json:"id"`           // Unique identifier
	ContentID   string    `json:"content_id"`   // Item the attempt was made for
	Category    string    `json:"category"`     // Category returned by the provider
	Confidence  float64   `json:"confidence"`   // Confidence returned by the provider
	Provider    string    `json:"provider"`     // Provider that answered
	Model       string    `json:"model"`        // Model name reported by the provider
	RawResponse string    `json:"raw_response"` // Raw provider payload kept for audit
	CreatedAt   time.Time `json:"created_at"`   // When the attempt completed
}

// BiasLabel is the coarse political lean of an item.
type BiasLabel string

const (
	BiasLeft   BiasLabel = "left"
	BiasCenter BiasLabel = "center"
	BiasRight  BiasLabel = "right"
)

// Valid reports whether the label is one of the known values.
func (b BiasLabel) Valid() bool {
	switch b {
	case BiasLeft, BiasCenter, BiasRight:
		return true
	}
	return false
}

// BiasLabelForScore maps a bias score in [-1,1] to a label.
func BiasLabelForScore(score float64) BiasLabel {
	switch {
	case score <= -0.33:
		return BiasLeft
	case score >= 0.33:
		return BiasRight
	default:
		return BiasCenter
	}
}

// PoliticalAnalysis is the structured analysis of a flagged item, one per item.
type PoliticalAnalysis struct {
	ContentID        string    `json:"content_id"`        // Parent item, unique
	BiasScore        float64   `json:"bias_score"`        // -1 (left) .. 1 (right)
	BiasConfidence   float64   `json:"bias_confidence"`   // 0..1
	BiasLabel        BiasLabel `json:"bias_label"`        // left, center or right
	QualityScore     int       `json:"quality_score"`     // 1..10
	CredibilityScore float64   `json:"credibility_score"` // 1.0..10.0
	LoadedLanguage   []string  `json:"loaded_language"`   // Emotionally loaded phrases
	ExecutiveSummary string    `json:"executive_summary"` // 50-100 words
	DetailedSummary  string    `json:"detailed_summary"`  // 200-300 words
	KeyPoints        []string  `json:"key_points"`        // Bullet points
	ModelUsed        string    `json:"model_used"`        // provider/model that produced it
	SchemaVersion    int       `json:"schema_version"`    // Version of the list payloads
	UpdatedAt        time.Time `json:"updated_at"`        // Last upsert
}

// AnalyzedItem pairs a completed flagged item with its analysis.
type AnalyzedItem struct {
	Item     ContentItem       `json:"item"`
	Analysis PoliticalAnalysis `json:"analysis"`
}

// TopicCluster is a group of related items produced for a single digest run.
type TopicCluster struct {
	ID               string    `json:"id"`                // Stable within a run, e.g. cluster-1
	Label            string    `json:"label"`             // Derived from the representative summary
	ItemIDs          []string  `json:"item_ids"`          // Members, sorted
	Centroid         []float64 `json:"centroid"`          // Mean of member vectors
	RepresentativeID string    `json:"representative_id"` // Member used for the label and summary
	Importance       float64   `json:"importance"`        // Set by ranking
	GroupKey         string    `json:"group_key"`         // Topic group, set by digest selection
}

// ItemReference points back to a source item from a digest section.
type ItemReference struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	BiasLabel BiasLabel `json:"bias_label"`
	Quality   int       `json:"quality"`
}

// ClusterSummary is the persisted form of a selected cluster.
type ClusterSummary struct {
	Rank       int             `json:"rank"`
	ClusterID  string          `json:"cluster_id"`
	Label      string          `json:"label"`
	Summary    string          `json:"summary"`
	Importance float64         `json:"importance"`
	BiasMix    map[string]int  `json:"bias_mix"`
	References []ItemReference `json:"references"`
}

// Delivery states recorded on a digest.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliverySkipped   = "skipped"
)

// DigestRecord is the persisted output of one digest run, unique per date.
type DigestRecord struct {
	ID                  string           `json:"id"`
	DigestDate          string           `json:"digest_date"`           // YYYY-MM-DD
	WindowStart         time.Time        `json:"window_start"`          // Inclusive
	WindowEnd           time.Time        `json:"window_end"`            // Exclusive
	ItemsConsidered     int              `json:"items_considered"`      // All items captured in the window
	PoliticalItemsCount int              `json:"political_items_count"` // Flagged items in the selected clusters
	Clusters            []ClusterSummary `json:"clusters"`              // Ordered by rank
	SchemaVersion       int              `json:"schema_version"`
	Body                string           `json:"body"`      // Markdown
	HTMLBody            string           `json:"html_body"` // Rendered from Body
	GenerationDuration  time.Duration    `json:"generation_duration"`
	CreatedAt           time.Time        `json:"created_at"`
	DeliveryStatus      string           `json:"delivery_status"`
}

// Empty reports whether the digest carries no clusters.
func (d DigestRecord) Empty() bool {
	return len(d.Clusters) == 0
}
