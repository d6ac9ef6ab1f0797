package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/agent"
	"github.com/BaSui01/roadmapflow/content"
	"github.com/BaSui01/roadmapflow/notify"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/types"
)

// NodeRunner 单个阶段的执行者。只写自己的产出字段，从不决定下一阶段。
type NodeRunner interface {
	Stage() Stage
	Run(ctx context.Context, s *State) error
}

// ContentGenerator 内容生成阶段的协作方，由 content.Coordinator 实现
type ContentGenerator interface {
	Generate(ctx context.Context, job content.Job) (*content.Result, error)
}

// RunnerDeps 构造阶段执行者所需的依赖
type RunnerDeps struct {
	Agents     agent.Set
	Content    ContentGenerator
	RoadmapIDs *RoadmapIDAllocator
	Roadmaps   persistence.RoadmapStore
	Notifier   notify.Notifier
	Logs       persistence.ExecutionLogStore
	Logger     *zap.Logger
}

// NewRunners 构造全部阶段执行者
func NewRunners(deps RunnerDeps) (map[Stage]NodeRunner, error) {
	switch {
	case deps.Content == nil:
		return nil, errors.New("workflow: content generator is required")
	case deps.Roadmaps == nil:
		return nil, errors.New("workflow: roadmap store is required")
	case deps.RoadmapIDs == nil:
		return nil, errors.New("workflow: roadmap id allocator is required")
	}
	if err := deps.Agents.Validate(false, false, false); err != nil {
		return nil, err
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	b := base{deps: deps, logger: deps.Logger.With(zap.String("component", "workflow_runner"))}

	runners := []NodeRunner{
		&intentRunner{b},
		&designRunner{b},
		&validateRunner{b},
		&editRunner{b},
		&reviewRunner{b},
		&contentRunner{b},
	}
	out := make(map[Stage]NodeRunner, len(runners))
	for _, r := range runners {
		out[r.Stage()] = r
	}
	return out, nil
}

type base struct {
	deps   RunnerDeps
	logger *zap.Logger
}

// record 写入一条 info 级执行日志，失败只记录警告
func (b base) record(ctx context.Context, s *State, stage Stage, category persistence.LogCategory, msg string, details map[string]any) {
	if b.deps.Logs == nil {
		return
	}
	if err := b.deps.Logs.Append(ctx, &persistence.ExecutionLog{
		TaskID:   s.TaskID,
		Category: category,
		Level:    persistence.LogLevelInfo,
		Step:     string(stage),
		Message:  msg,
		Details:  details,
	}); err != nil {
		b.logger.Warn("failed to append execution log", zap.String("task_id", s.TaskID), zap.Error(err))
	}
}

func (b base) saveRoadmap(ctx context.Context, s *State, f *types.RoadmapFramework) error {
	if err := b.deps.Roadmaps.Save(ctx, &persistence.RoadmapRecord{
		RoadmapID: s.RoadmapID,
		TaskID:    s.TaskID,
		UserID:    s.UserRequest.UserID,
		Title:     f.Title,
		Framework: f,
	}); err != nil {
		return fmt.Errorf("save roadmap %s: %w", s.RoadmapID, err)
	}
	return nil
}

func emptyOutput(stage Stage, name string) error {
	return types.NewError(types.ErrAgentFailed, fmt.Sprintf("%s returned no output at %s", name, stage)).
		WithAgent(name)
}

// =============================================================================
// intent_analysis
// =============================================================================

type intentRunner struct{ base }

func (r *intentRunner) Stage() Stage { return StageIntentAnalysis }

func (r *intentRunner) Run(ctx context.Context, s *State) error {
	if s.UserRequest.LearningGoal == "" {
		return types.NewMissingInputError(string(r.Stage()), "user_request.learning_goal")
	}
	intent, err := r.deps.Agents.Intent.Execute(ctx, s.UserRequest)
	if err != nil {
		return err
	}
	if intent == nil {
		return emptyOutput(r.Stage(), "intent_analyzer")
	}
	s.IntentAnalysis = intent

	if s.RoadmapID == "" {
		title := intent.Title
		if title == "" {
			title = s.UserRequest.LearningGoal
		}
		id, err := r.deps.RoadmapIDs.Assign(ctx, s.TaskID, s.UserRequest.UserID, title)
		if err != nil {
			return err
		}
		s.RoadmapID = id
	}
	return nil
}

// =============================================================================
// curriculum_design
// =============================================================================

type designRunner struct{ base }

func (r *designRunner) Stage() Stage { return StageCurriculumDesign }

func (r *designRunner) Run(ctx context.Context, s *State) error {
	if s.IntentAnalysis == nil {
		return types.NewMissingInputError(string(r.Stage()), "intent_analysis")
	}
	if s.RoadmapID == "" {
		return types.NewMissingInputError(string(r.Stage()), "roadmap_id")
	}
	framework, err := r.deps.Agents.Designer.Execute(ctx, agent.DesignInput{
		TaskID:      s.TaskID,
		RoadmapID:   s.RoadmapID,
		UserRequest: s.UserRequest,
		Intent:      s.IntentAnalysis,
	})
	if err != nil {
		return err
	}
	if framework == nil {
		return emptyOutput(r.Stage(), "curriculum_designer")
	}
	framework.RoadmapID = s.RoadmapID
	if err := r.saveRoadmap(ctx, s, framework); err != nil {
		return err
	}
	s.RoadmapFramework = framework
	return nil
}

// =============================================================================
// validate
// =============================================================================

type validateRunner struct{ base }

func (r *validateRunner) Stage() Stage { return StageValidate }

func (r *validateRunner) Run(ctx context.Context, s *State) error {
	if s.RoadmapFramework == nil {
		return types.NewMissingInputError(string(r.Stage()), "roadmap_framework")
	}
	result, err := r.deps.Agents.Validator.Execute(ctx, agent.ValidateInput{
		TaskID:      s.TaskID,
		UserRequest: s.UserRequest,
		Framework:   s.RoadmapFramework,
		Round:       s.ModificationCount,
	})
	if err != nil {
		return err
	}
	if result == nil {
		return emptyOutput(r.Stage(), "structure_validator")
	}
	s.ValidationResult = result

	r.record(ctx, s, r.Stage(), persistence.LogCategoryAgent, "framework validated", map[string]any{
		"is_valid":      result.IsValid,
		"issues":        len(result.Issues),
		"overall_score": result.OverallScore,
		"round":         s.ModificationCount,
	})
	return nil
}

// =============================================================================
// edit
// =============================================================================

type editRunner struct{ base }

func (r *editRunner) Stage() Stage { return StageEdit }

func (r *editRunner) Run(ctx context.Context, s *State) error {
	if s.RoadmapFramework == nil {
		return types.NewMissingInputError(string(r.Stage()), "roadmap_framework")
	}
	input := agent.EditInput{
		TaskID:      s.TaskID,
		UserRequest: s.UserRequest,
		Framework:   s.RoadmapFramework,
		Validation:  s.ValidationResult,
		Round:       s.ModificationCount + 1,
	}
	// 驳回后的修订带上审核意见
	if approved, ok := s.Decision(); ok && !approved {
		input.Feedback = s.ReviewFeedback
	}

	framework, err := r.deps.Agents.Editor.Execute(ctx, input)
	if err != nil {
		return err
	}
	if framework == nil {
		return emptyOutput(r.Stage(), "roadmap_editor")
	}
	framework.RoadmapID = s.RoadmapID
	if err := r.saveRoadmap(ctx, s, framework); err != nil {
		return err
	}
	s.RoadmapFramework = framework
	s.ModificationCount++

	r.record(ctx, s, r.Stage(), persistence.LogCategoryAgent, "framework revised", map[string]any{
		"modification_count": s.ModificationCount,
		"with_feedback":      input.Feedback != "",
	})
	return nil
}

// =============================================================================
// human_review
// =============================================================================

type reviewRunner struct{ base }

func (r *reviewRunner) Stage() Stage { return StageHumanReview }

func (r *reviewRunner) Run(ctx context.Context, s *State) error {
	if s.RoadmapFramework == nil {
		return types.NewMissingInputError(string(r.Stage()), "roadmap_framework")
	}
	s.ReviewRound++
	r.deps.Notifier.PublishProgress(ctx, s.TaskID, string(r.Stage()), "awaiting_review")
	types.EmitStageEvent(ctx, types.StageEvent{
		TaskID: s.TaskID,
		Stage:  string(r.Stage()),
		Data:   s.RoadmapFramework,
	})
	r.record(ctx, s, r.Stage(), persistence.LogCategoryWorkflow, "awaiting human review", map[string]any{
		"review_round":       s.ReviewRound,
		"modification_count": s.ModificationCount,
	})
	return nil
}

// =============================================================================
// content_generation
// =============================================================================

type contentRunner struct{ base }

func (r *contentRunner) Stage() Stage { return StageContentGeneration }

func (r *contentRunner) Run(ctx context.Context, s *State) error {
	if s.RoadmapFramework == nil {
		return types.NewMissingInputError(string(r.Stage()), "roadmap_framework")
	}
	if s.RoadmapID == "" {
		return types.NewMissingInputError(string(r.Stage()), "roadmap_id")
	}
	result, err := r.deps.Content.Generate(ctx, content.Job{
		TaskID:      s.TaskID,
		RoadmapID:   s.RoadmapID,
		UserRequest: s.UserRequest,
		Framework:   s.RoadmapFramework,
	})
	if err != nil {
		return err
	}
	s.FailedConcepts = result.FailedConcepts
	s.ExecutionSummary = result.Summary
	s.KeyAllocation = result.KeyAllocation

	r.record(ctx, s, r.Stage(), persistence.LogCategoryContent, "content generation finished", map[string]any{
		"status":          string(result.Status),
		"failed_concepts": result.FailedConcepts,
	})
	return nil
}
