// Package custom holds per-application trust field schemas and blends
// their values with the core score into composite scores.
//
// Flow:
//  1. An external application registers a field schema with aggregation rules
//  2. Wallet-scoped field values are written against the schema
//  3. Composite scores combine core and custom per the app's rules
//  4. Unregistered apps get a neutral custom score under default rules
package custom

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrSchemaNotFound = errors.New("custom metrics schema not found")
	ErrInvalidInput   = errors.New("invalid input")
)

// FieldType classifies a custom trust field.
type FieldType string

const (
	FieldNumeric     FieldType = "numeric"
	FieldBoolean     FieldType = "boolean"
	FieldCategorical FieldType = "categorical"
	FieldTimeSeries  FieldType = "time_series"
	FieldCompound    FieldType = "compound"
)

// DataSource identifies where a field's values originate.
type DataSource string

const (
	SourceOnChain        DataSource = "on_chain"
	SourceOffChain       DataSource = "off_chain"
	SourceUserInput      DataSource = "user_input"
	SourceCoreTrust      DataSource = "core_trust"
	SourceCrossReference DataSource = "cross_reference"
)

// Aggregation methods. An empty method falls back to the arithmetic mean
// of core and custom.
const (
	MethodWeightedAverage = "weighted_average"
	MethodWeightedSum     = "weighted_sum"
	MethodMinimum         = "minimum"
	MethodMaximum         = "maximum"
)

// TrustField defines one named custom field in an app's schema.
type TrustField struct {
	Name             string     `json:"name"`
	Type             FieldType  `json:"type"`
	Weight           float64    `json:"weight"`
	DataSource       DataSource `json:"dataSource"`
	ValidationMethod string     `json:"validationMethod,omitempty"`
	MinValue         *float64   `json:"minValue,omitempty"`
	MaxValue         *float64   `json:"maxValue,omitempty"`
	DefaultValue     float64    `json:"defaultValue"`
	DecayRate        *float64   `json:"decayRate,omitempty"`
}

// AggregationRules control how core and custom scores combine.
// Weights need not sum to 1; the final score is clamped to [0,1].
type AggregationRules struct {
	Method          string  `json:"method"`
	CoreTrustWeight float64 `json:"coreTrustWeight"`
	CustomWeight    float64 `json:"customWeight"`
}

// DefaultAggregationRules are applied for unregistered apps.
func DefaultAggregationRules() AggregationRules {
	return AggregationRules{
		Method:          MethodWeightedAverage,
		CoreTrustWeight: 0.7,
		CustomWeight:    0.3,
	}
}

// ValidationRules are enforced when custom values are written.
type ValidationRules struct {
	RequiredFields   []string `json:"requiredFields,omitempty"`
	MinimumCoreScore float64  `json:"minimumCoreScore,omitempty"`
	MaximumDecayRate float64  `json:"maximumDecayRate,omitempty"`
}

// Schema is the registered custom metrics definition for one application.
type Schema struct {
	AppID       string                `json:"appId"`
	DeveloperID string                `json:"developerId"`
	Fields      map[string]TrustField `json:"fields"`
	Aggregation AggregationRules      `json:"aggregation"`
	Validation  ValidationRules       `json:"validation"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// FieldValue is one wallet-scoped custom field observation.
type FieldValue struct {
	Wallet    string    `json:"wallet"`
	AppID     string    `json:"appId"`
	Field     string    `json:"field"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CompositeTrustScore is the per-app blended score for one wallet.
// Always recomputed fresh; cached only briefly keyed by (wallet, app).
type CompositeTrustScore struct {
	Wallet      string             `json:"wallet"`
	AppID       string             `json:"appId"`
	CoreScore   float64            `json:"coreScore"`
	CustomScore float64            `json:"customScore"`
	FinalScore  float64            `json:"finalScore"`
	Components  map[string]float64 `json:"components"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Store persists schemas and field values.
type Store interface {
	// SaveSchema upserts an app's schema.
	SaveSchema(ctx context.Context, s *Schema) error
	// GetSchema returns the schema for appID, or ErrSchemaNotFound.
	GetSchema(ctx context.Context, appID string) (*Schema, error)
	// SetFieldValue upserts one wallet-scoped field value.
	SetFieldValue(ctx context.Context, v FieldValue) error
	// FieldValues returns all stored values for (wallet, appID) by field name.
	FieldValues(ctx context.Context, wallet, appID string) (map[string]float64, error)
}
