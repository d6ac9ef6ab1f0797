package agent

import (
	"context"

	"github.com/BaSui01/roadmapflow/types"
)

// Agent 类型化的内容生成协作方
type Agent[I, O any] interface {
	Execute(ctx context.Context, input I) (O, error)
}

// Func adapts a function to Agent.
type Func[I, O any] func(ctx context.Context, input I) (O, error)

// Execute implements Agent.
func (f Func[I, O]) Execute(ctx context.Context, input I) (O, error) {
	return f(ctx, input)
}

// DesignInput 课程设计输入
type DesignInput struct {
	TaskID      string                `json:"task_id"`
	RoadmapID   string                `json:"roadmap_id"`
	UserRequest types.UserRequest     `json:"user_request"`
	Intent      *types.IntentAnalysis `json:"intent"`
}

// ValidateInput 结构校验输入
type ValidateInput struct {
	TaskID      string                  `json:"task_id"`
	UserRequest types.UserRequest       `json:"user_request"`
	Framework   *types.RoadmapFramework `json:"framework"`
	// Round 为当前修订轮次（modification_count）
	Round int `json:"round"`
}

// EditInput 框架修订输入
type EditInput struct {
	TaskID      string                  `json:"task_id"`
	UserRequest types.UserRequest       `json:"user_request"`
	Framework   *types.RoadmapFramework `json:"framework"`
	Validation  *types.ValidationResult `json:"validation,omitempty"`
	// Feedback 人工审核驳回意见，可为空
	Feedback string `json:"feedback,omitempty"`
	Round    int    `json:"round"`
}

// ConceptInput 单个 Concept 的内容生成输入
type ConceptInput struct {
	TaskID      string            `json:"task_id"`
	RoadmapID   string            `json:"roadmap_id"`
	Concept     types.Concept     `json:"concept"`
	UserRequest types.UserRequest `json:"user_request"`
}

// ResourceInput 资源推荐输入。KeyIndex 为 -1 时 APIKey 为空，推荐方应走降级路径。
type ResourceInput struct {
	ConceptInput
	APIKey   string `json:"api_key,omitempty"`
	KeyIndex int    `json:"key_index"`
}

// Per-category agents.
type (
	IntentAnalyzer      = Agent[types.UserRequest, *types.IntentAnalysis]
	CurriculumDesigner  = Agent[DesignInput, *types.RoadmapFramework]
	StructureValidator  = Agent[ValidateInput, *types.ValidationResult]
	RoadmapEditor       = Agent[EditInput, *types.RoadmapFramework]
	TutorialGenerator   = Agent[ConceptInput, *types.Tutorial]
	ResourceRecommender = Agent[ResourceInput, *types.ResourceList]
	QuizGenerator       = Agent[ConceptInput, *types.Quiz]
)

// Set 全部 Agent，启动时一次性注入
type Set struct {
	Intent    IntentAnalyzer
	Designer  CurriculumDesigner
	Validator StructureValidator
	Editor    RoadmapEditor
	Tutorial  TutorialGenerator
	Resources ResourceRecommender
	Quiz      QuizGenerator
}

// Validate 检查是否所有必需的 Agent 都已注入。
// 被配置跳过的内容类型可以为 nil。
func (s Set) Validate(needTutorial, needResources, needQuiz bool) error {
	missing := func(name string) error {
		return types.NewError(types.ErrInvalidRequest, "agent not configured: "+name)
	}
	switch {
	case s.Intent == nil:
		return missing("intent_analyzer")
	case s.Designer == nil:
		return missing("curriculum_designer")
	case s.Validator == nil:
		return missing("structure_validator")
	case s.Editor == nil:
		return missing("roadmap_editor")
	case needTutorial && s.Tutorial == nil:
		return missing("tutorial_generator")
	case needResources && s.Resources == nil:
		return missing("resource_recommender")
	case needQuiz && s.Quiz == nil:
		return missing("quiz_generator")
	}
	return nil
}
