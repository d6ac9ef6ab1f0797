package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/roadmapflow/types"
)

func boolPtr(b bool) *bool { return &b }

// withDecision 构造一个在当前轮次已有决策的状态
func withDecision(s *State, approved bool) *State {
	s.ReviewRound = 1
	s.DecisionRound = 1
	s.HumanApproved = boolPtr(approved)
	return s
}

func TestRouter_NextStage(t *testing.T) {
	valid := &types.ValidationResult{IsValid: true}
	invalid := &types.ValidationResult{IsValid: false}

	tests := []struct {
		name  string
		cfg   RouterConfig
		state *State
		want  Stage
	}{
		{
			name:  "intent to design",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: StageIntentAnalysis},
			want:  StageCurriculumDesign,
		},
		{
			name:  "design to validate",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: StageCurriculumDesign},
			want:  StageValidate,
		},
		{
			name:  "design skips validation",
			cfg:   RouterConfig{MaxRetry: 3, SkipValidation: true},
			state: &State{CurrentStep: StageCurriculumDesign},
			want:  StageHumanReview,
		},
		{
			name:  "design skips validation and review",
			cfg:   RouterConfig{MaxRetry: 3, SkipValidation: true, SkipHumanReview: true},
			state: &State{CurrentStep: StageCurriculumDesign},
			want:  StageContentGeneration,
		},
		{
			name:  "invalid below budget edits",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: StageValidate, ValidationResult: invalid, ModificationCount: 2},
			want:  StageEdit,
		},
		{
			name:  "invalid at budget goes to review",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: StageValidate, ValidationResult: invalid, ModificationCount: 3},
			want:  StageHumanReview,
		},
		{
			name:  "invalid at budget goes to review even when skipped",
			cfg:   RouterConfig{MaxRetry: 3, SkipHumanReview: true},
			state: &State{CurrentStep: StageValidate, ValidationResult: invalid, ModificationCount: 3},
			want:  StageHumanReview,
		},
		{
			name:  "missing validation result counts as invalid",
			cfg:   RouterConfig{MaxRetry: 1},
			state: &State{CurrentStep: StageValidate},
			want:  StageEdit,
		},
		{
			name:  "valid to review",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: StageValidate, ValidationResult: valid},
			want:  StageHumanReview,
		},
		{
			name:  "valid skips review",
			cfg:   RouterConfig{MaxRetry: 3, SkipHumanReview: true},
			state: &State{CurrentStep: StageValidate, ValidationResult: valid},
			want:  StageContentGeneration,
		},
		{
			name:  "edit to validate",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: StageEdit},
			want:  StageValidate,
		},
		{
			name:  "edit skips validation",
			cfg:   RouterConfig{MaxRetry: 3, SkipValidation: true},
			state: &State{CurrentStep: StageEdit},
			want:  StageHumanReview,
		},
		{
			name:  "review without decision suspends",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: StageHumanReview, ReviewRound: 1},
			want:  StageHumanReviewPending,
		},
		{
			name:  "approved generates content",
			cfg:   RouterConfig{MaxRetry: 3},
			state: withDecision(&State{CurrentStep: StageHumanReviewPending}, true),
			want:  StageContentGeneration,
		},
		{
			name:  "rejected edits within total budget",
			cfg:   RouterConfig{MaxRetry: 3},
			state: withDecision(&State{CurrentStep: StageHumanReviewPending, ModificationCount: 3}, false),
			want:  StageEdit,
		},
		{
			name:  "rejected past total budget fails",
			cfg:   RouterConfig{MaxRetry: 3, MaxTotalEdits: 4},
			state: withDecision(&State{CurrentStep: StageHumanReviewPending, ModificationCount: 4}, false),
			want:  StageFailed,
		},
		{
			name: "stale decision ignored",
			cfg:  RouterConfig{MaxRetry: 3},
			state: &State{
				CurrentStep:   StageHumanReview,
				HumanApproved: boolPtr(false),
				ReviewRound:   2,
				DecisionRound: 1,
			},
			want: StageHumanReviewPending,
		},
		{
			name:  "content to completed",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: StageContentGeneration},
			want:  StageCompleted,
		},
		{
			name:  "completed stays",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: StageCompleted},
			want:  StageCompleted,
		},
		{
			name:  "unknown stage fails",
			cfg:   RouterConfig{MaxRetry: 3},
			state: &State{CurrentStep: "bogus"},
			want:  StageFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(tt.cfg)
			assert.Equal(t, tt.want, r.NextStage(tt.state))
		})
	}
}

func TestNewRouter_Defaults(t *testing.T) {
	assert.Equal(t, 6, NewRouter(RouterConfig{MaxRetry: 3}).Config().MaxTotalEdits)
	assert.Equal(t, 3, NewRouter(RouterConfig{MaxRetry: 3, MaxTotalEdits: 1}).Config().MaxTotalEdits)
	assert.Equal(t, 0, NewRouter(RouterConfig{MaxRetry: -1}).Config().MaxRetry)
}

func TestRouter_IsPure(t *testing.T) {
	r := NewRouter(RouterConfig{MaxRetry: 2})
	s := withDecision(&State{CurrentStep: StageHumanReviewPending, ModificationCount: 1}, false)
	before := s.Clone()

	first := r.NextStage(s)
	second := r.NextStage(s)

	assert.Equal(t, first, second)
	assert.Equal(t, before, s)
}
