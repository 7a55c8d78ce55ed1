package routing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubComplexity struct {
	complex bool
	err     error
	called  bool
}

func (s *stubComplexity) IsComplex(_ context.Context, _ string) (bool, error) {
	s.called = true
	return s.complex, s.err
}

func TestChooseModel_KeywordRoutesComplex(t *testing.T) {
	classifier := &stubComplexity{}
	r := NewRouter("gpt-4o-mini", "gpt-4o", classifier)

	model := r.ChooseModel(context.Background(), "I want a refund for last month")

	assert.Equal(t, "gpt-4o", model)
	assert.False(t, classifier.called, "heuristic hit must skip the classifier")
}

func TestChooseModel_LongTextRoutesComplex(t *testing.T) {
	r := NewRouter("gpt-4o-mini", "gpt-4o", nil)
	long := strings.Repeat("tell me more about the service ", 10)

	assert.Greater(t, len(long), complexLengthThreshold)
	assert.Equal(t, "gpt-4o", r.ChooseModel(context.Background(), long))
}

func TestChooseModel_SimpleTextRoutesPrimary(t *testing.T) {
	r := NewRouter("gpt-4o-mini", "gpt-4o", nil)
	assert.Equal(t, "gpt-4o-mini", r.ChooseModel(context.Background(), "what time do you open"))
}

func TestChooseModel_ClassifierFallback(t *testing.T) {
	classifier := &stubComplexity{complex: true}
	r := NewRouter("gpt-4o-mini", "gpt-4o", classifier)

	model := r.ChooseModel(context.Background(), "help me plan something tricky")

	assert.True(t, classifier.called)
	assert.Equal(t, "gpt-4o", model)
}

func TestChooseModel_ClassifierSaysSimple(t *testing.T) {
	classifier := &stubComplexity{complex: false}
	r := NewRouter("gpt-4o-mini", "gpt-4o", classifier)

	assert.Equal(t, "gpt-4o-mini", r.ChooseModel(context.Background(), "what time do you open"))
}

func TestChooseModel_ClassifierFailureUsesPrimary(t *testing.T) {
	classifier := &stubComplexity{err: errors.New("upstream timeout")}
	r := NewRouter("gpt-4o-mini", "gpt-4o", classifier)

	assert.Equal(t, "gpt-4o-mini", r.ChooseModel(context.Background(), "what time do you open"))
}

func TestHeuristicIsComplex_CaseInsensitive(t *testing.T) {
	assert.True(t, heuristicIsComplex("My CONTRACT says otherwise"))
	assert.False(t, heuristicIsComplex("just saying hello"))
}
