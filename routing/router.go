// Package routing picks the response-generation model tier for a turn.
//
// A cheap local heuristic (length and keyword checks) handles the obvious
// cases; ambiguous text falls through to an optional model-based classifier.
package routing

import (
	"context"
	"strings"

	"github.com/ringlet-ai/ringlet/logger"
)

// complexLengthThreshold routes long utterances to the complex tier without
// consulting the classifier.
const complexLengthThreshold = 240

// complexKeywords mark topics that warrant the complex tier outright.
var complexKeywords = []string{
	"complaint", "refund", "cancel", "legal",
	"contract", "outage", "chargeback", "dispute",
}

// ComplexityClassifier judges whether text needs the complex model tier.
// It is only consulted when the local heuristic does not decide.
type ComplexityClassifier interface {
	IsComplex(ctx context.Context, text string) (bool, error)
}

// Router chooses between a primary (cheap) and complex model tier.
type Router struct {
	primaryModel string
	complexModel string
	classifier   ComplexityClassifier
}

// NewRouter creates a Router. classifier may be nil, in which case only the
// local heuristic is used.
func NewRouter(primaryModel, complexModel string, classifier ComplexityClassifier) *Router {
	return &Router{
		primaryModel: primaryModel,
		complexModel: complexModel,
		classifier:   classifier,
	}
}

// ChooseModel returns the model identifier to generate a response with.
// Classifier failures fall back to the primary tier.
func (r *Router) ChooseModel(ctx context.Context, text string) string {
	if heuristicIsComplex(text) {
		return r.complexModel
	}
	if r.classifier != nil {
		complex, err := r.classifier.IsComplex(ctx, text)
		if err != nil {
			logger.Warn("complexity classifier failed, using primary model", "error", err)
		} else if complex {
			return r.complexModel
		}
	}
	return r.primaryModel
}

func heuristicIsComplex(text string) bool {
	if len(text) > complexLengthThreshold {
		return true
	}
	lower := strings.ToLower(text)
	for _, keyword := range complexKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
