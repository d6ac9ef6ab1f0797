package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/roadmapflow/content"
	"github.com/BaSui01/roadmapflow/types"
)

// Stage 工作流阶段或伪状态
type Stage string

const (
	StageIntentAnalysis    Stage = "intent_analysis"
	StageCurriculumDesign  Stage = "curriculum_design"
	StageValidate          Stage = "validate"
	StageEdit              Stage = "edit"
	StageHumanReview       Stage = "human_review"
	StageContentGeneration Stage = "content_generation"

	// 伪状态
	StageHumanReviewPending Stage = "human_review_pending"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// Stages returns the runnable stages in graph order.
func Stages() []Stage {
	return []Stage{
		StageIntentAnalysis,
		StageCurriculumDesign,
		StageValidate,
		StageEdit,
		StageHumanReview,
		StageContentGeneration,
	}
}

// IsTerminal 是否为终止伪状态
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// IsRunnable 是否为可执行阶段
func (s Stage) IsRunnable() bool {
	for _, st := range Stages() {
		if s == st {
			return true
		}
	}
	return false
}

// StateSchemaVersion 检查点中 State 的结构版本
const StateSchemaVersion = 1

// State 工作流状态，整体作为检查点持久化
type State struct {
	SchemaVersion int               `json:"schema_version"`
	TaskID        string            `json:"task_id"`
	UserRequest   types.UserRequest `json:"user_request"`
	RoadmapID     string            `json:"roadmap_id,omitempty"`

	IntentAnalysis   *types.IntentAnalysis   `json:"intent_analysis,omitempty"`
	RoadmapFramework *types.RoadmapFramework `json:"roadmap_framework,omitempty"`
	ValidationResult *types.ValidationResult `json:"validation_result,omitempty"`

	ModificationCount int `json:"modification_count"`

	// 人工审核。HumanApproved 只由审批接口写入
	HumanApproved  *bool  `json:"human_approved,omitempty"`
	ReviewFeedback string `json:"review_feedback,omitempty"`
	Reviewer       string `json:"reviewer,omitempty"`
	ReviewRound    int    `json:"review_round"`
	DecisionRound  int    `json:"decision_round"`

	CurrentStep Stage   `json:"current_step"`
	History     []Stage `json:"history,omitempty"`

	// 内容生成产出
	FailedConcepts   []string                 `json:"failed_concepts,omitempty"`
	ExecutionSummary content.ExecutionSummary `json:"execution_summary,omitempty"`
	KeyAllocation    map[string]int           `json:"key_allocation,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewState 创建初始状态，CurrentStep 为第一个阶段
func NewState(taskID string, req types.UserRequest, now time.Time) *State {
	return &State{
		SchemaVersion: StateSchemaVersion,
		TaskID:        taskID,
		UserRequest:   req,
		CurrentStep:   StageIntentAnalysis,
		UpdatedAt:     now,
	}
}

// Decision 返回当前审核轮次的有效决策。ok=false 表示尚无决策。
func (s *State) Decision() (approved bool, ok bool) {
	if s.HumanApproved == nil || s.ReviewRound == 0 || s.DecisionRound != s.ReviewRound {
		return false, false
	}
	return *s.HumanApproved, true
}

// RecordDecision 记录人工决策，仅在挂起等待审核时允许
func (s *State) RecordDecision(approved bool, feedback, reviewer string) error {
	if s.CurrentStep != StageHumanReviewPending {
		return types.NewError(types.ErrInvalidState,
			fmt.Sprintf("task %s is not awaiting review (current step %s)", s.TaskID, s.CurrentStep))
	}
	if _, decided := s.Decision(); decided {
		return types.NewError(types.ErrInvalidState,
			fmt.Sprintf("review round %d of task %s already decided", s.ReviewRound, s.TaskID))
	}
	s.HumanApproved = &approved
	s.ReviewFeedback = feedback
	s.Reviewer = reviewer
	s.DecisionRound = s.ReviewRound
	return nil
}

// Clone 深拷贝
func (s *State) Clone() *State {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("workflow: marshal state: %v", err))
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("workflow: unmarshal state: %v", err))
	}
	return &out
}
