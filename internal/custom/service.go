package custom

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/meshtrust/trustd/internal/cache"
	"github.com/meshtrust/trustd/internal/metrics"
	"github.com/meshtrust/trustd/internal/traces"
	"github.com/meshtrust/trustd/internal/trust"
)

// neutralCustomScore is used when an app has no registered schema or a
// schema carries no usable field weights.
const neutralCustomScore = 0.5

// Service implements the custom metrics registry and the composite
// score calculator.
type Service struct {
	store        Store
	trust        *trust.Service
	cache        cache.Cache
	compositeTTL time.Duration
}

// NewService creates a custom metrics service.
func NewService(store Store, ts *trust.Service, c cache.Cache, compositeTTL time.Duration) *Service {
	return &Service{store: store, trust: ts, cache: c, compositeTTL: compositeTTL}
}

// Register upserts an app's custom metrics schema. Field-level semantics
// are the registering application's responsibility; only structural
// validity is checked here.
func (s *Service) Register(ctx context.Context, appID, developerID string, fields map[string]TrustField, agg AggregationRules, val ValidationRules) (*Schema, error) {
	appID = strings.TrimSpace(appID)
	developerID = strings.TrimSpace(developerID)

	if appID == "" {
		return nil, fmt.Errorf("%w: appId is required", ErrInvalidInput)
	}
	if developerID == "" {
		return nil, fmt.Errorf("%w: developerId is required", ErrInvalidInput)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: at least one field is required", ErrInvalidInput)
	}
	if val.MaximumDecayRate > 0 {
		for name, f := range fields {
			if f.DecayRate != nil && *f.DecayRate > val.MaximumDecayRate {
				return nil, fmt.Errorf("%w: field %q decay rate %.3f exceeds maximum %.3f",
					ErrInvalidInput, name, *f.DecayRate, val.MaximumDecayRate)
			}
		}
	}

	now := time.Now().UTC()
	schema := &Schema{
		AppID:       appID,
		DeveloperID: developerID,
		Fields:      fields,
		Aggregation: agg,
		Validation:  val,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := s.store.GetSchema(ctx, appID); err == nil {
		schema.CreatedAt = existing.CreatedAt
	}

	if err := s.store.SaveSchema(ctx, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// SetField stores a wallet-scoped field value and invalidates the cached
// composite for (wallet, appID). The schema's ValidationRules are enforced
// here, at write time.
func (s *Service) SetField(ctx context.Context, wallet, appID, field string, value float64) error {
	wallet = strings.ToLower(wallet)

	schema, err := s.store.GetSchema(ctx, appID)
	if err != nil {
		return err
	}

	def, ok := schema.Fields[field]
	if !ok {
		return fmt.Errorf("%w: field %q is not registered for app %q", ErrInvalidInput, field, appID)
	}
	if def.MinValue != nil && value < *def.MinValue {
		return fmt.Errorf("%w: value %.3f below minimum %.3f", ErrInvalidInput, value, *def.MinValue)
	}
	if def.MaxValue != nil && value > *def.MaxValue {
		return fmt.Errorf("%w: value %.3f above maximum %.3f", ErrInvalidInput, value, *def.MaxValue)
	}

	if schema.Validation.MinimumCoreScore > 0 {
		m, err := s.trust.GetMetrics(ctx, wallet)
		if err != nil {
			return err
		}
		if m.CoreTrustScore < schema.Validation.MinimumCoreScore {
			return fmt.Errorf("%w: core score %.3f below app minimum %.3f",
				ErrInvalidInput, m.CoreTrustScore, schema.Validation.MinimumCoreScore)
		}
	}

	if err := s.store.SetFieldValue(ctx, FieldValue{
		Wallet:    wallet,
		AppID:     appID,
		Field:     field,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	s.cache.Delete(trust.CompositeKey(wallet, appID))
	return nil
}

// Composite computes the per-app blended score for a wallet. Always
// recomputed fresh apart from a short TTL cache; the core component may be
// served from the score cache.
func (s *Service) Composite(ctx context.Context, wallet, appID string) (*CompositeTrustScore, error) {
	wallet = strings.ToLower(wallet)

	if v, ok := s.cache.Get(trust.CompositeKey(wallet, appID)); ok {
		if cs, ok := v.(*CompositeTrustScore); ok {
			metrics.CacheHitsTotal.WithLabelValues("composite").Inc()
			return cs, nil
		}
	}
	metrics.CacheMissesTotal.WithLabelValues("composite").Inc()

	ctx, span := traces.StartSpan(ctx, "custom.Composite",
		traces.WalletAddr(wallet), traces.AppID(appID))
	defer span.End()
	start := time.Now()

	m, err := s.trust.GetMetrics(ctx, wallet)
	if err != nil {
		return nil, err
	}
	core := m.CoreTrustScore

	rules := DefaultAggregationRules()
	customScore := neutralCustomScore
	components := map[string]float64{}

	schema, err := s.store.GetSchema(ctx, appID)
	switch err {
	case nil:
		rules = schema.Aggregation
		values, err := s.store.FieldValues(ctx, wallet, appID)
		if err != nil {
			return nil, err
		}
		customScore = customScoreFor(schema, values, components)
	case ErrSchemaNotFound:
		// Unregistered app: neutral custom score under default rules.
	default:
		return nil, err
	}

	final := combine(rules, core, customScore)
	components["core"] = core
	components["custom"] = customScore

	cs := &CompositeTrustScore{
		Wallet:      wallet,
		AppID:       appID,
		CoreScore:   core,
		CustomScore: customScore,
		FinalScore:  final,
		Components:  components,
		Timestamp:   time.Now().UTC(),
	}

	metrics.ObserveComputation("composite", start)
	span.SetAttributes(traces.Score(final))

	s.cache.Set(trust.CompositeKey(wallet, appID), cs, s.compositeTTL)
	return cs, nil
}

// VerifyRequest carries the thresholds an application checks a wallet against.
type VerifyRequest struct {
	MinCore   float64 `json:"minCore"`
	MinCustom float64 `json:"minCustom"`
	MinFinal  float64 `json:"minFinal"`
}

// VerifyResult reports whether a wallet passes the thresholds, with the
// scores used for the decision.
type VerifyResult struct {
	Passed bool                 `json:"passed"`
	Score  *CompositeTrustScore `json:"score"`
}

// Verify checks a wallet's composite score against app-supplied minimums.
func (s *Service) Verify(ctx context.Context, wallet, appID string, req VerifyRequest) (*VerifyResult, error) {
	cs, err := s.Composite(ctx, wallet, appID)
	if err != nil {
		return nil, err
	}
	passed := cs.CoreScore >= req.MinCore &&
		cs.CustomScore >= req.MinCustom &&
		cs.FinalScore >= req.MinFinal
	return &VerifyResult{Passed: passed, Score: cs}, nil
}

// customScoreFor derives the custom component as the weight-normalized
// combination of the app's field values, falling back to each field's
// default when no value is stored. Per-field contributions are written
// into components.
func customScoreFor(schema *Schema, values map[string]float64, components map[string]float64) float64 {
	var weighted, totalWeight float64
	for name, def := range schema.Fields {
		if def.Weight <= 0 {
			continue
		}
		v, ok := values[name]
		if !ok {
			v = def.DefaultValue
		}
		components["field:"+name] = v
		weighted += def.Weight * v
		totalWeight += def.Weight
	}
	if totalWeight == 0 {
		return neutralCustomScore
	}
	return weighted / totalWeight
}

// combine applies the app's aggregation rules. The result is clamped to
// [0,1] because rule weights need not sum to 1.
func combine(rules AggregationRules, core, custom float64) float64 {
	var final float64
	switch rules.Method {
	case MethodWeightedAverage:
		final = core*rules.CoreTrustWeight + custom*rules.CustomWeight
	case MethodWeightedSum:
		final = core*rules.CoreTrustWeight + custom
	case MethodMinimum:
		final = math.Min(core, custom)
	case MethodMaximum:
		final = math.Max(core, custom)
	default:
		final = (core + custom) / 2
	}
	return math.Max(0, math.Min(1, final))
}
