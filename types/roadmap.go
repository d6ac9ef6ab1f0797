package types

import "time"

// =============================================================================
// 📥 用户输入
// =============================================================================

// UserRequest 用户提交的学习路线需求，任务创建后不再修改。
type UserRequest struct {
	UserID                string            `json:"user_id"`
	LearningGoal          string            `json:"learning_goal"`
	CurrentLevel          string            `json:"current_level,omitempty"`
	AvailableHoursPerWeek int               `json:"available_hours_per_week,omitempty"`
	Language              string            `json:"language,omitempty"`
	Preferences           map[string]string `json:"preferences,omitempty"`
}

// Validate checks the request before a task is created.
func (r UserRequest) Validate() error {
	if r.UserID == "" {
		return NewInvalidRequestError("user_id is required")
	}
	if r.LearningGoal == "" {
		return NewInvalidRequestError("learning_goal is required")
	}
	if r.AvailableHoursPerWeek < 0 {
		return NewInvalidRequestError("available_hours_per_week must not be negative")
	}
	return nil
}

// =============================================================================
// 🧭 阶段产出
// =============================================================================

// IntentAnalysis 需求分析结果
type IntentAnalysis struct {
	ParsedGoal        string   `json:"parsed_goal"`
	KeyTechnologies   []string `json:"key_technologies,omitempty"`
	DifficultyProfile string   `json:"difficulty_profile,omitempty"`
	TimeConstraint    string   `json:"time_constraint,omitempty"`
	Title             string   `json:"title,omitempty"`
}

// RoadmapFramework 课程框架：Stage → Module → Concept
type RoadmapFramework struct {
	RoadmapID string         `json:"roadmap_id"`
	Title     string         `json:"title"`
	Stages    []RoadmapStage `json:"stages"`
}

// RoadmapStage 学习阶段
type RoadmapStage struct {
	StageID     string          `json:"stage_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Order       int             `json:"order"`
	Modules     []RoadmapModule `json:"modules"`
}

// RoadmapModule 学习模块
type RoadmapModule struct {
	ModuleID    string    `json:"module_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Concepts    []Concept `json:"concepts"`
}

// Concept 是内容生成的最小单元（一个 topic）。
type Concept struct {
	ConceptID      string   `json:"concept_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	Prerequisites  []string `json:"prerequisites,omitempty"`
	Difficulty     string   `json:"difficulty,omitempty"`
}

// Concepts flattens the framework into document order.
func (f *RoadmapFramework) Concepts() []Concept {
	if f == nil {
		return nil
	}
	var out []Concept
	for _, s := range f.Stages {
		for _, m := range s.Modules {
			out = append(out, m.Concepts...)
		}
	}
	return out
}

// ValidationIssue 单条结构问题
type ValidationIssue struct {
	Severity   string `json:"severity"` // "critical" | "warning"
	Location   string `json:"location"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidationResult 结构校验结果。IsValid=false 是正常的路由结果，不是错误。
type ValidationResult struct {
	IsValid      bool              `json:"is_valid"`
	Issues       []ValidationIssue `json:"issues,omitempty"`
	OverallScore float64           `json:"overall_score,omitempty"`
}

// =============================================================================
// 📚 Concept 内容
// =============================================================================

// ContentType 内容类型
type ContentType string

const (
	ContentTutorial  ContentType = "tutorial"
	ContentResources ContentType = "resources"
	ContentQuiz      ContentType = "quiz"
)

// AllContentTypes returns content types in generation order.
func AllContentTypes() []ContentType {
	return []ContentType{ContentTutorial, ContentResources, ContentQuiz}
}

// Tutorial 教程内容
type Tutorial struct {
	ConceptID   string    `json:"concept_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Body        string    `json:"body"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Resource 单个学习资源
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type,omitempty"`
}

// ResourceList 资源推荐结果
type ResourceList struct {
	ConceptID string     `json:"concept_id"`
	Resources []Resource `json:"resources"`
	// KeyIndex 为 -1 时表示未分配外部 Key（降级模式）
	KeyIndex int `json:"key_index"`
}

// QuizQuestion 测验题
type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}

// Quiz 测验
type Quiz struct {
	ConceptID string         `json:"concept_id"`
	Questions []QuizQuestion `json:"questions"`
}
