// Package healing recovers broken element locators by trying an ordered set
// of strategies until one produces a candidate selector above the confidence
// threshold. Every attempt is logged, every run emits a healing event and a
// user notification.
package healing

import (
	"context"
	"errors"

	"github.com/autoqa/autoqa/pkg/models"
	"github.com/autoqa/autoqa/pkg/provider"
)

// Strategy names, in the default execution order.
const (
	StrategyCSSSelector        = "css_selector"
	StrategyXPath              = "xpath"
	StrategyTextContent        = "text_content"
	StrategyVisualRecognition  = "visual_recognition"
	StrategyStructuralAnalysis = "structural_analysis"
)

// ErrInsufficientVisualData is the declared failure of the visual strategy
// when the context carries neither a visual hash nor a screenshot.
var ErrInsufficientVisualData = errors.New("insufficient visual data")

// Candidate is a proposed replacement selector.
type Candidate struct {
	Selector   string
	Confidence float64 // 0..1
}

// Strategy produces a candidate selector for a broken locator. A returned
// error is the strategy's declared failure and is recorded in the attempt
// log; it does not abort the run.
type Strategy interface {
	Name() string
	Heal(ctx context.Context, hctx *models.HealingContext) (*Candidate, error)
}

// NewStrategy constructs a strategy by name. Provider-backed strategies
// (visual recognition, structural analysis) consult pool.
func NewStrategy(name string, pool *provider.Pool) (Strategy, error) {
	switch name {
	case StrategyCSSSelector:
		return &cssStrategy{}, nil
	case StrategyXPath:
		return &xpathStrategy{}, nil
	case StrategyTextContent:
		return &textStrategy{}, nil
	case StrategyVisualRecognition:
		return &visualStrategy{pool: pool}, nil
	case StrategyStructuralAnalysis:
		return &structuralStrategy{pool: pool}, nil
	default:
		return nil, errors.New("unknown healing strategy " + name)
	}
}

// BuildStrategies resolves an ordered list of strategy names.
func BuildStrategies(names []string, pool *provider.Pool) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := NewStrategy(name, pool)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
