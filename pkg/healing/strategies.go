package healing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/autoqa/autoqa/pkg/models"
	"github.com/autoqa/autoqa/pkg/provider"
)

var (
	testIDAttrRe = regexp.MustCompile(`data-testid="([^"]+)"`)
	idAttrRe     = regexp.MustCompile(`id="([^"]+)"`)
	tokenSplitRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// cssStrategy proposes a stable attribute selector by matching tokens of the
// original selector against data-testid and id attributes in the DOM
// snapshot. Attribute selectors survive layout churn better than positional
// ones.
type cssStrategy struct{}

func (s *cssStrategy) Name() string { return StrategyCSSSelector }

func (s *cssStrategy) Heal(_ context.Context, hctx *models.HealingContext) (*Candidate, error) {
	if hctx.DomSnapshot == "" {
		return nil, errors.New("no dom snapshot available")
	}

	want := tokenize(hctx.OriginalSelector)
	if len(want) == 0 {
		return nil, errors.New("original selector yields no tokens")
	}

	best := ""
	bestAttr := ""
	bestScore := 0.0
	for _, m := range testIDAttrRe.FindAllStringSubmatch(hctx.DomSnapshot, -1) {
		if score := tokenOverlap(want, tokenize(m[1])); score > bestScore {
			best, bestAttr, bestScore = m[1], "data-testid", score
		}
	}
	for _, m := range idAttrRe.FindAllStringSubmatch(hctx.DomSnapshot, -1) {
		if score := tokenOverlap(want, tokenize(m[1])); score > bestScore {
			best, bestAttr, bestScore = m[1], "id", score
		}
	}
	if best == "" {
		return nil, errors.New("no matching attribute in dom snapshot")
	}

	selector := fmt.Sprintf(`[%s="%s"]`, bestAttr, best)
	if bestAttr == "id" {
		selector = "#" + best
	}
	return &Candidate{Selector: selector, Confidence: 0.6 + 0.4*bestScore}, nil
}

// xpathStrategy builds an XPath expression from the element type and any
// known text, anchored on DOM evidence where possible.
type xpathStrategy struct{}

func (s *xpathStrategy) Name() string { return StrategyXPath }

func (s *xpathStrategy) Heal(_ context.Context, hctx *models.HealingContext) (*Candidate, error) {
	elem := hctx.ElementType
	if elem == "" {
		elem = "*"
	}

	if text := hctx.Metadata["text"]; text != "" {
		xpath := fmt.Sprintf(`//%s[contains(text(),"%s")]`, elem, text)
		confidence := 0.55
		if strings.Contains(hctx.DomSnapshot, text) {
			confidence = 0.75
		}
		return &Candidate{Selector: xpath, Confidence: confidence}, nil
	}

	want := tokenize(hctx.OriginalSelector)
	for _, m := range idAttrRe.FindAllStringSubmatch(hctx.DomSnapshot, -1) {
		if tokenOverlap(want, tokenize(m[1])) > 0 {
			return &Candidate{
				Selector:   fmt.Sprintf(`//%s[@id="%s"]`, elem, m[1]),
				Confidence: 0.7,
			}, nil
		}
	}
	return nil, errors.New("no anchor for xpath construction")
}

// textStrategy locates the element by its visible text.
type textStrategy struct{}

func (s *textStrategy) Name() string { return StrategyTextContent }

func (s *textStrategy) Heal(_ context.Context, hctx *models.HealingContext) (*Candidate, error) {
	text := hctx.Metadata["text"]
	if text == "" {
		text = hctx.Metadata["label"]
	}
	if text == "" {
		return nil, errors.New("no text content known for element")
	}

	confidence := 0.5
	if strings.Contains(hctx.DomSnapshot, text) {
		confidence = 0.8
	}
	return &Candidate{Selector: "text=" + text, Confidence: confidence}, nil
}

// visualStrategy asks the provider pool to identify the element from its
// last known visual fingerprint. It declares failure without visual data.
type visualStrategy struct {
	pool *provider.Pool
}

func (s *visualStrategy) Name() string { return StrategyVisualRecognition }

func (s *visualStrategy) Heal(ctx context.Context, hctx *models.HealingContext) (*Candidate, error) {
	hasHash := hctx.LastKnownLoc != nil && hctx.LastKnownLoc.VisualHash != ""
	if !hasHash && len(hctx.Screenshot) == 0 {
		return nil, ErrInsufficientVisualData
	}

	var sb strings.Builder
	sb.WriteString("Identify a CSS selector for the element that previously matched ")
	sb.WriteString(hctx.OriginalSelector)
	sb.WriteString(".\n")
	if hasHash {
		fmt.Fprintf(&sb, "Visual hash: %s\n", hctx.LastKnownLoc.VisualHash)
		fmt.Fprintf(&sb, "Last position: %dx%d at (%d,%d)\n",
			hctx.LastKnownLoc.Width, hctx.LastKnownLoc.Height, hctx.LastKnownLoc.X, hctx.LastKnownLoc.Y)
	}
	if len(hctx.Screenshot) > 0 {
		fmt.Fprintf(&sb, "Screenshot (hex, truncated): %s\n", hex.EncodeToString(firstBytes(hctx.Screenshot, 64)))
	}
	sb.WriteString("Respond with only the selector.")

	result, err := s.pool.Generate(ctx, provider.Request{Prompt: sb.String(), MaxTokens: 128})
	if err != nil {
		return nil, err
	}
	return &Candidate{Selector: strings.TrimSpace(result.Code), Confidence: result.Confidence}, nil
}

// structuralStrategy asks the provider pool to reason over the DOM structure.
type structuralStrategy struct {
	pool *provider.Pool
}

func (s *structuralStrategy) Name() string { return StrategyStructuralAnalysis }

func (s *structuralStrategy) Heal(ctx context.Context, hctx *models.HealingContext) (*Candidate, error) {
	if hctx.DomSnapshot == "" {
		return nil, errors.New("no dom snapshot for structural analysis")
	}

	prompt := fmt.Sprintf(
		"The selector %q no longer matches any element. Analyze this DOM and propose the most stable replacement selector for the same %s element. Respond with only the selector.\n\n%s",
		hctx.OriginalSelector, hctx.ElementType, hctx.DomSnapshot)

	result, err := s.pool.Generate(ctx, provider.Request{Prompt: prompt, MaxTokens: 128})
	if err != nil {
		return nil, err
	}
	return &Candidate{Selector: strings.TrimSpace(result.Code), Confidence: result.Confidence}, nil
}

func tokenize(s string) []string {
	tokens := tokenSplitRe.Split(strings.ToLower(s), -1)
	return lo.Filter(tokens, func(t string, _ int) bool { return len(t) > 1 })
}

func tokenOverlap(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	return float64(len(lo.Intersect(want, have))) / float64(len(want))
}

func firstBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
