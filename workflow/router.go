package workflow

// RouterConfig 路由配置
type RouterConfig struct {
	// MaxRetry 校验失败触发的自动修订上限
	MaxRetry int `yaml:"max_retry" env:"MAX_RETRY"`
	// MaxTotalEdits 修订总次数上限（含人工驳回触发的修订），<= 0 时为 2*MaxRetry
	MaxTotalEdits   int  `yaml:"max_total_edits" env:"MAX_TOTAL_EDITS"`
	SkipValidation  bool `yaml:"skip_validation" env:"SKIP_VALIDATION"`
	SkipHumanReview bool `yaml:"skip_human_review" env:"SKIP_HUMAN_REVIEW"`
}

// Router 纯函数路由
type Router struct {
	config RouterConfig
}

// NewRouter 创建路由
func NewRouter(config RouterConfig) *Router {
	if config.MaxRetry < 0 {
		config.MaxRetry = 0
	}
	if config.MaxTotalEdits <= 0 {
		config.MaxTotalEdits = 2 * config.MaxRetry
	}
	if config.MaxTotalEdits < config.MaxRetry {
		config.MaxTotalEdits = config.MaxRetry
	}
	return &Router{config: config}
}

// Config returns the normalized configuration.
func (r *Router) Config() RouterConfig { return r.config }

// NextStage 根据当前阶段与状态决定下一阶段
func (r *Router) NextStage(s *State) Stage {
	switch s.CurrentStep {
	case StageIntentAnalysis:
		return StageCurriculumDesign

	case StageCurriculumDesign, StageEdit:
		if r.config.SkipValidation {
			return r.afterValidation()
		}
		return StageValidate

	case StageValidate:
		if s.ValidationResult != nil && s.ValidationResult.IsValid {
			return r.afterValidation()
		}
		if s.ModificationCount < r.config.MaxRetry {
			return StageEdit
		}
		// 自动修订用尽，交给人工，即使配置跳过了人工审核
		return StageHumanReview

	case StageHumanReview, StageHumanReviewPending:
		approved, ok := s.Decision()
		switch {
		case !ok:
			return StageHumanReviewPending
		case approved:
			return StageContentGeneration
		case s.ModificationCount < r.config.MaxTotalEdits:
			return StageEdit
		default:
			return StageFailed
		}

	case StageContentGeneration:
		return StageCompleted

	case StageCompleted, StageFailed:
		return s.CurrentStep
	}
	return StageFailed
}

func (r *Router) afterValidation() Stage {
	if r.config.SkipHumanReview {
		return StageContentGeneration
	}
	return StageHumanReview
}
