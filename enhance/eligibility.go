package enhance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/convert"
	"github.com/stratahq/strata/errors"
	"github.com/stratahq/strata/fragment"
	"github.com/stratahq/strata/schema"
	"github.com/stratahq/strata/typeinfer"
)

// confidenceSampleLimit bounds how many stored values feed one confidence
// calculation.
const confidenceSampleLimit = 50

// Recommendation kinds.
const (
	RecommendAddFields     = "add_fields"
	RecommendAddConverters = "add_converters"
)

// fieldNamePattern accepts alphanumeric/underscore names without leading or
// trailing underscores.
var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9_]*[a-zA-Z0-9])?$`)

const maxFieldNameLength = 50

// Eligibility is the verdict on one candidate field.
type Eligibility struct {
	Eligible   bool       `json:"eligible"`
	Reason     string     `json:"reason,omitempty"`
	Confidence Confidence `json:"confidence"`

	// Set when Eligible.
	RecommendationType string                `json:"recommendation_type,omitempty"`
	InferredType       typeinfer.Kind        `json:"inferred_type,omitempty"`
	Converter          *schema.ConverterSpec `json:"converter,omitempty"`
}

// Checker decides whether accumulated fragment evidence justifies promoting
// a field. Thresholds are hot-reloadable.
type Checker struct {
	fragments *fragment.Store
	schemas   *schema.Registry
	logger    *zap.SugaredLogger

	mu  sync.RWMutex
	cfg config.EnhanceConfig
}

// NewChecker creates an eligibility checker.
func NewChecker(fragments *fragment.Store, schemas *schema.Registry, cfg config.EnhanceConfig, logger *zap.SugaredLogger) *Checker {
	return &Checker{fragments: fragments, schemas: schemas, cfg: cfg, logger: logger}
}

// SetConfig swaps the thresholds, typically from a config reload callback.
func (c *Checker) SetConfig(cfg config.EnhanceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *Checker) config() config.EnhanceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Check runs the full eligibility gate for one candidate field. The cheap
// name checks run before any database work.
func (c *Checker) Check(ctx context.Context, entityType, fragmentKey, ownerScope string) (*Eligibility, error) {
	cfg := c.config()

	if matchesBlacklist(fragmentKey, cfg.FieldNameBlacklist) {
		return ineligible("field name matches blacklist"), nil
	}
	if !validFieldName(fragmentKey) {
		return ineligible("field name is not a valid identifier"), nil
	}

	stats, err := c.fragments.Stats(ctx, entityType, fragmentKey, ownerScope)
	if err != nil {
		return nil, err
	}
	if stats.TotalFrequency < cfg.FrequencyThreshold {
		return ineligible(fmt.Sprintf("frequency %d below threshold %d", stats.TotalFrequency, cfg.FrequencyThreshold)), nil
	}
	if stats.DistinctSources < cfg.MinDistinctSources {
		return ineligible(fmt.Sprintf("only %d distinct source(s), need %d", stats.DistinctSources, cfg.MinDistinctSources)), nil
	}

	samples, err := c.fragments.Samples(ctx, entityType, fragmentKey, ownerScope, confidenceSampleLimit)
	if err != nil {
		return nil, err
	}
	conf := CalculateFieldConfidence(fragmentKey, samples)
	if conf.Score < cfg.ConfidenceThreshold {
		verdict := ineligible(fmt.Sprintf("confidence %.2f below threshold %.2f", conf.Score, cfg.ConfidenceThreshold))
		verdict.Confidence = conf
		return verdict, nil
	}

	verdict := &Eligibility{Eligible: true, Confidence: conf, InferredType: conf.DominantKind}

	active, err := c.schemas.LoadActive(ctx, entityType, ownerScope)
	if err != nil && !errors.IsNotFoundError(err) {
		return nil, err
	}

	declared, exists := declaredField(active, fragmentKey)
	if !exists {
		verdict.RecommendationType = RecommendAddFields
		return verdict, nil
	}

	// The field is already declared; the only useful enhancement is a
	// converter bridging the observed representation to the declared type.
	converter, reason := DetectConverterNeeded(declared, conf)
	if converter == nil {
		return ineligible(reason), nil
	}
	verdict.RecommendationType = RecommendAddConverters
	verdict.Converter = converter
	return verdict, nil
}

// DetectConverterNeeded decides whether a declared field needs a converter to
// bridge the observed representation to its declared type. A nil spec means no
// converter should be added; the reason says why (values already conform, no
// builtin covers the pair, or the converter is already declared). Epoch-shaped
// numbers infer as dates but do not conform to a declared date field (which
// means ISO-8601), so they still get a converter.
func DetectConverterNeeded(declared schema.FieldDefinition, conf Confidence) (*schema.ConverterSpec, string) {
	declaredKind := typeinfer.Kind(declared.Type)
	if declaredKind == conf.DominantKind && conf.EpochUnit == "" {
		return nil, "declared type already matches observed values"
	}
	function := convert.ForKinds(conf.DominantKind, declaredKind, conf.EpochUnit)
	if function == "" {
		return nil, fmt.Sprintf("no converter covers %s -> %s", conf.DominantKind, declaredKind)
	}
	if hasDeclaredConverter(declared, function) {
		return nil, "converter already declared on field"
	}

	from := conf.DominantKind
	if conf.EpochUnit != "" {
		// The wire representation is numeric even though it infers as a date.
		from = typeinfer.KindNumber
	}
	return &schema.ConverterSpec{
		From:          string(from),
		To:            declared.Type,
		Function:      function,
		Deterministic: true,
	}, ""
}

func ineligible(reason string) *Eligibility {
	return &Eligibility{Eligible: false, Reason: reason}
}

func declaredField(def *schema.Definition, name string) (schema.FieldDefinition, bool) {
	if def == nil {
		return schema.FieldDefinition{}, false
	}
	field, ok := def.Fields[name]
	return field, ok
}

func hasDeclaredConverter(field schema.FieldDefinition, function string) bool {
	for _, spec := range field.Converters {
		if spec.Function == function {
			return true
		}
	}
	return false
}

// matchesBlacklist checks a field name against wildcard patterns: "prefix*",
// "*suffix", or exact literals.
func matchesBlacklist(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		p := strings.ToLower(pattern)
		switch {
		case strings.HasPrefix(p, "*"):
			if strings.HasSuffix(lower, p[1:]) {
				return true
			}
		case strings.HasSuffix(p, "*"):
			if strings.HasPrefix(lower, p[:len(p)-1]) {
				return true
			}
		default:
			if lower == p {
				return true
			}
		}
	}
	return false
}

func validFieldName(name string) bool {
	return len(name) > 0 && len(name) <= maxFieldNameLength && fieldNamePattern.MatchString(name)
}
