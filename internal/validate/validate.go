// Package validate checks LLM answers against ground-truth facade handlers.
// When the LLM fallback serves a category that has a data-backed handler,
// the handler's answer is fetched and the LLM text is checked for the same
// literal facts and numbers. A disagreement is a detected hallucination; the
// orchestrator regenerates once at low temperature, then substitutes the
// ground-truth string.
package validate

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/openhearth/hearth/internal/handler"
	"github.com/openhearth/hearth/internal/types"
)

// Numeric tolerance: a number in the answer matches a ground-truth number
// when within 3 units absolute or 5 percent relative, whichever is looser.
const (
	absTolerance = 3.0
	relTolerance = 0.05
)

// Validator compares LLM output with ground-truth handler output.
type Validator struct {
	reg *handler.Registry
}

// New creates a Validator over the handler registry.
func New(reg *handler.Registry) *Validator {
	return &Validator{reg: reg}
}

// Applies reports whether answers for category are validatable.
func (v *Validator) Applies(category types.Category) bool {
	return v.reg.HasGroundTruth(category)
}

// Check fetches the ground-truth answer for in and verifies that answer
// agrees with it. It returns the ground-truth string so the caller can
// substitute it after a failed regeneration. A disagreement returns
// [types.ErrHallucinationDetected]; a ground-truth fetch failure returns
// that failure and the caller skips validation.
func (v *Validator) Check(ctx context.Context, in handler.Input, answer string) (string, error) {
	h, ok := v.reg.For(in.Intent.Category)
	if !ok || !v.reg.HasGroundTruth(in.Intent.Category) {
		return "", fmt.Errorf("validate: no ground truth for %s: %w", in.Intent.Category, types.ErrNotApplicable)
	}

	res, err := h.Handle(ctx, in)
	if err != nil {
		return "", fmt.Errorf("validate: ground truth fetch: %w", err)
	}

	if Consistent(answer, res.Answer) {
		return res.Answer, nil
	}
	return res.Answer, fmt.Errorf("validate: answer disagrees with %s handler: %w",
		in.Intent.Category, types.ErrHallucinationDetected)
}

// Consistent reports whether answer agrees with truth: every number in the
// truth has a close counterpart in the answer, and at least half of the
// truth's key literal facts appear in the answer.
func Consistent(answer, truth string) bool {
	truthNums := numbers(truth)
	answerNums := numbers(answer)
	for _, n := range truthNums {
		if !hasClose(answerNums, n) {
			return false
		}
	}

	facts := keyFacts(truth)
	if len(facts) == 0 {
		return true
	}
	lower := strings.ToLower(answer)
	found := 0
	for _, f := range facts {
		if strings.Contains(lower, strings.ToLower(f)) {
			found++
		}
	}
	return found*2 >= len(facts)
}

func hasClose(nums []float64, n float64) bool {
	tol := math.Max(absTolerance, math.Abs(n)*relTolerance)
	for _, m := range nums {
		if math.Abs(m-n) <= tol {
			return true
		}
	}
	return false
}

// numbers extracts every decimal number in s.
func numbers(s string) []float64 {
	var out []float64
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		if f, err := strconv.ParseFloat(strings.Trim(cur.String(), "."), 64); err == nil {
			out = append(out, f)
		}
		cur.Reset()
	}
	for _, r := range s {
		if unicode.IsDigit(r) || (r == '.' && cur.Len() > 0) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// keyFacts extracts capitalized words (excluding sentence starts) as the
// literal facts an answer must preserve: names, places, teams.
func keyFacts(s string) []string {
	var facts []string
	sentenceStart := true
	for _, w := range strings.Fields(s) {
		word := strings.Trim(w, ".,!?;:\"'")
		if word == "" {
			continue
		}
		first := []rune(word)[0]
		if unicode.IsUpper(first) && !sentenceStart && len(word) > 1 {
			facts = append(facts, word)
		}
		sentenceStart = strings.ContainsAny(w, ".!?")
	}
	return facts
}
