package workflow

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"

	"github.com/BaSui01/roadmapflow/types"
)

var allStates = []Stage{
	StageIntentAnalysis, StageCurriculumDesign, StageValidate, StageEdit,
	StageHumanReview, StageContentGeneration, StageHumanReviewPending,
	StageCompleted, StageFailed,
}

func drawState(t *rapid.T) *State {
	s := &State{
		CurrentStep:       rapid.SampledFrom(allStates).Draw(t, "step"),
		ModificationCount: rapid.IntRange(0, 10).Draw(t, "modifications"),
		ReviewRound:       rapid.IntRange(0, 4).Draw(t, "review_round"),
		DecisionRound:     rapid.IntRange(0, 4).Draw(t, "decision_round"),
	}
	if rapid.Bool().Draw(t, "has_validation") {
		s.ValidationResult = &types.ValidationResult{IsValid: rapid.Bool().Draw(t, "is_valid")}
	}
	if rapid.Bool().Draw(t, "has_decision") {
		approved := rapid.Bool().Draw(t, "approved")
		s.HumanApproved = &approved
	}
	return s
}

// 路由结果总是合法阶段；跳过的阶段永远不会被选中（人工审核兜底除外）
func TestRouter_Property_SkipFlags(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := RouterConfig{
			MaxRetry:        rapid.IntRange(0, 5).Draw(t, "max_retry"),
			SkipValidation:  rapid.Bool().Draw(t, "skip_validation"),
			SkipHumanReview: rapid.Bool().Draw(t, "skip_review"),
		}
		r := NewRouter(cfg)
		s := drawState(t)
		next := r.NextStage(s)

		if !next.IsRunnable() && next != StageHumanReviewPending && !next.IsTerminal() {
			t.Fatalf("router produced unknown stage %q", next)
		}
		if cfg.SkipValidation && next == StageValidate {
			t.Fatalf("validate chosen from %s while skipped", s.CurrentStep)
		}
		if cfg.SkipHumanReview && next == StageHumanReview && s.CurrentStep != StageValidate {
			t.Fatalf("human_review chosen from %s while skipped", s.CurrentStep)
		}
	})
}

// 校验失败时：未到上限走 edit，到达上限走 human_review
func TestRouter_Property_EditLoopBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRetry := rapid.IntRange(0, 6).Draw(t, "max_retry")
		mc := rapid.IntRange(0, 12).Draw(t, "modification_count")
		r := NewRouter(RouterConfig{MaxRetry: maxRetry, SkipHumanReview: rapid.Bool().Draw(t, "skip_review")})

		next := r.NextStage(&State{
			CurrentStep:       StageValidate,
			ValidationResult:  &types.ValidationResult{IsValid: false},
			ModificationCount: mc,
		})
		switch {
		case mc < maxRetry && next != StageEdit:
			t.Fatalf("mc=%d max=%d: want edit, got %s", mc, maxRetry, next)
		case mc >= maxRetry && next != StageHumanReview:
			t.Fatalf("mc=%d max=%d: want human_review, got %s", mc, maxRetry, next)
		}
	})
}

// 只有当前轮次的决策生效
func TestRouter_Property_DecisionRounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	r := NewRouter(RouterConfig{MaxRetry: 3})

	properties.Property("decision counts only for the current review round", prop.ForAll(
		func(reviewRound, decisionRound int, approved bool, mc int) bool {
			s := &State{
				CurrentStep:       StageHumanReviewPending,
				ReviewRound:       reviewRound,
				DecisionRound:     decisionRound,
				HumanApproved:     &approved,
				ModificationCount: mc,
			}
			next := r.NextStage(s)
			if reviewRound == 0 || reviewRound != decisionRound {
				return next == StageHumanReviewPending
			}
			if approved {
				return next == StageContentGeneration
			}
			if mc < 6 {
				return next == StageEdit
			}
			return next == StageFailed
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.Bool(),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
