// Package escalation scores customer turns against business-configured rules
// and realtime speech signals to decide whether a call needs a human.
package escalation

import (
	"context"
	"strings"

	"github.com/ringlet-ai/ringlet/logger"
	"github.com/ringlet-ai/ringlet/stt"
)

const (
	// classifierThreshold is the running score at which the model-based
	// classifier is consulted.
	classifierThreshold = 3

	// escalateThreshold is the score a turn must exceed to escalate.
	escalateThreshold = 5

	// signalPenalty is added for negative sentiment, aggressive tone, or a
	// positive classifier verdict.
	signalPenalty = 5
)

// Rule is one business-configured escalation trigger. Any keyword matching
// the turn text as a case-insensitive substring adds Priority to the score.
type Rule struct {
	Keywords []string
	Priority int
}

// Decision is the outcome of evaluating one turn.
type Decision struct {
	Escalated bool
	Reason    string
	Score     int
}

// Classifier judges whether raw turn text is sensitive enough to warrant
// human attention. It is only consulted once cheaper signals accumulate.
type Classifier interface {
	IsSensitive(ctx context.Context, text string) (bool, error)
}

// Evaluator combines rule matching, sentiment/tone signals, and an optional
// model-based classifier into a single escalation decision.
type Evaluator struct {
	classifier Classifier
}

// NewEvaluator creates an Evaluator. classifier may be nil, in which case
// the classifier stage is skipped.
func NewEvaluator(classifier Classifier) *Evaluator {
	return &Evaluator{classifier: classifier}
}

// Evaluate scores text against rules and recognition metadata.
//
// The score accumulates the priority of every rule with a keyword match,
// plus a fixed penalty for negative sentiment or aggressive tone, plus a
// further fixed penalty if the classifier judges the text sensitive. The
// reason reports the first contributor only and is never overwritten.
// Classifier failures degrade to a rules-and-signals-only decision.
func (e *Evaluator) Evaluate(ctx context.Context, rules []Rule, text string, meta *stt.Metadata) Decision {
	score := 0
	reason := ""
	lower := strings.ToLower(text)

	for _, rule := range rules {
		for _, keyword := range rule.Keywords {
			if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
				score += rule.Priority
				if reason == "" {
					reason = "Keyword rule match"
				}
				break
			}
		}
	}

	if meta != nil {
		if meta.Sentiment < -0.5 || hasTone(meta.Tone, "aggressive") {
			score += signalPenalty
			if reason == "" {
				reason = "Frustration detected"
			}
		}
	}

	if score >= classifierThreshold && e.classifier != nil {
		sensitive, err := e.classifier.IsSensitive(ctx, text)
		if err != nil {
			logger.Warn("escalation classifier failed", "error", err)
		} else if sensitive {
			score += signalPenalty
			if reason == "" {
				reason = "LLM sensitive classification"
			}
		}
	}

	return Decision{
		Escalated: score > escalateThreshold,
		Reason:    reason,
		Score:     score,
	}
}

func hasTone(tones []string, want string) bool {
	for _, tone := range tones {
		if strings.EqualFold(tone, want) {
			return true
		}
	}
	return false
}
