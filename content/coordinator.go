package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goerrors "github.com/go-errors/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/roadmapflow/agent"
	"github.com/BaSui01/roadmapflow/internal/metrics"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/types"
)

// StageName 内容生成阶段在流式事件中的名称
const StageName = "content_generation"

// Config 内容生成配置
type Config struct {
	// Concurrency 同时处理的概念数，<= 0 视为 1
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// MinQuota 可用 Key 的最低剩余配额
	MinQuota      int  `yaml:"min_quota" env:"MIN_QUOTA"`
	SkipTutorial  bool `yaml:"skip_tutorial" env:"SKIP_TUTORIAL"`
	SkipResources bool `yaml:"skip_resources" env:"SKIP_RESOURCES"`
	SkipQuiz      bool `yaml:"skip_quiz" env:"SKIP_QUIZ"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		MinQuota:    1,
	}
}

// EnabledTypes returns the content types generated under this config, in order.
func (c Config) EnabledTypes() []types.ContentType {
	out := make([]types.ContentType, 0, 3)
	for _, ct := range types.AllContentTypes() {
		switch {
		case ct == types.ContentTutorial && c.SkipTutorial,
			ct == types.ContentResources && c.SkipResources,
			ct == types.ContentQuiz && c.SkipQuiz:
			continue
		}
		out = append(out, ct)
	}
	return out
}

// Job 一次内容生成的输入
type Job struct {
	TaskID      string
	RoadmapID   string
	UserRequest types.UserRequest
	Framework   *types.RoadmapFramework
}

// TypeSummary 单个内容类型的汇总
type TypeSummary struct {
	Completed      []string `json:"completed"`
	Failed         []string `json:"failed"`
	CompletedCount int      `json:"completed_count"`
	FailedCount    int      `json:"failed_count"`
}

// ExecutionSummary 按内容类型汇总
type ExecutionSummary map[types.ContentType]*TypeSummary

// ConceptOutcome 单个概念的生成结果，也是 partial 事件的载荷
type ConceptOutcome struct {
	ConceptID string                       `json:"concept_id"`
	KeyIndex  int                          `json:"key_index"`
	Completed []types.ContentType          `json:"completed"`
	Failed    map[types.ContentType]string `json:"failed,omitempty"`

	// 保存失败次数与尝试次数，用于判断存储不可用
	saveAttempts int
	saveFailures int
}

// OK 是否所有内容类型都成功
func (o ConceptOutcome) OK() bool { return len(o.Failed) == 0 }

// Result 内容生成结果
type Result struct {
	Status         persistence.TaskStatus `json:"status"`
	FailedConcepts []string               `json:"failed_concepts"`
	Summary        ExecutionSummary       `json:"execution_summary"`
	KeyAllocation  map[string]int         `json:"key_allocation"`
	Outcomes       []ConceptOutcome       `json:"outcomes"`
}

// Agents 内容生成使用的 Agent，被跳过的类型可以为 nil
type Agents struct {
	Tutorial  agent.TutorialGenerator
	Resources agent.ResourceRecommender
	Quiz      agent.QuizGenerator
}

// Coordinator 逐概念有界并发的内容生成协调器
type Coordinator struct {
	agents  Agents
	store   persistence.ContentStore
	keys    *KeyAllocator
	config  Config
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewCoordinator 创建协调器
func NewCoordinator(agents Agents, store persistence.ContentStore, keys *KeyAllocator, config Config, collector *metrics.Collector, logger *zap.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("content store is required")
	}
	for _, ct := range config.EnabledTypes() {
		switch {
		case ct == types.ContentTutorial && agents.Tutorial == nil,
			ct == types.ContentResources && agents.Resources == nil,
			ct == types.ContentQuiz && agents.Quiz == nil:
			return nil, fmt.Errorf("%s agent is required unless skipped", ct)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if keys == nil {
		keys = NewKeyAllocator(nil, config.MinQuota, logger)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Coordinator{
		agents:  agents,
		store:   store,
		keys:    keys,
		config:  config,
		metrics: collector,
		logger:  logger.With(zap.String("component", "content_coordinator")),
	}, nil
}

// Generate 为框架中的所有概念生成内容。
// 概念级失败记录在结果中；只有 ctx 取消或存储整体不可用时返回 error。
func (c *Coordinator) Generate(ctx context.Context, job Job) (*Result, error) {
	if job.Framework == nil {
		return nil, types.NewMissingInputError(StageName, "roadmap_framework")
	}
	if job.RoadmapID == "" {
		return nil, types.NewMissingInputError(StageName, "roadmap_id")
	}

	concepts := job.Framework.Concepts()
	assignments := c.keys.AllocateConcepts(ctx, concepts)
	enabled := c.config.EnabledTypes()
	c.metrics.RecordContentBatch(len(concepts))

	c.logger.Info("content generation started",
		zap.String("task_id", job.TaskID),
		zap.String("roadmap_id", job.RoadmapID),
		zap.Int("concepts", len(concepts)),
		zap.Int("concurrency", c.config.Concurrency))

	outcomes := make([]ConceptOutcome, len(assignments))
	var g errgroup.Group
	g.SetLimit(c.config.Concurrency)
	for i := range assignments {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = c.runConcept(ctx, job, assignments[i], enabled)
			types.EmitStageEvent(ctx, types.StageEvent{
				TaskID:  job.TaskID,
				Stage:   StageName,
				Partial: true,
				Data:    outcomes[i],
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.checkStorage(ctx, outcomes); err != nil {
		return nil, err
	}

	result := aggregate(assignments, outcomes, enabled)
	types.EmitStageEvent(ctx, types.StageEvent{
		TaskID: job.TaskID,
		Stage:  StageName,
		Data:   result,
	})

	c.logger.Info("content generation finished",
		zap.String("task_id", job.TaskID),
		zap.String("status", string(result.Status)),
		zap.Strings("failed_concepts", result.FailedConcepts))
	return result, nil
}

// runConcept 依次生成一个概念的各类内容，每一类独立捕获错误
func (c *Coordinator) runConcept(ctx context.Context, job Job, a Assignment, enabled []types.ContentType) ConceptOutcome {
	out := ConceptOutcome{
		ConceptID: a.Concept.ConceptID,
		KeyIndex:  a.KeyIndex,
		Completed: []types.ContentType{},
	}
	input := agent.ConceptInput{
		TaskID:      job.TaskID,
		RoadmapID:   job.RoadmapID,
		Concept:     a.Concept,
		UserRequest: job.UserRequest,
	}

	for _, ct := range enabled {
		payload, err := c.generateOne(ctx, ct, input, a)
		if err == nil {
			out.saveAttempts++
			if err = c.save(ctx, job.RoadmapID, a.Concept.ConceptID, ct, payload); err != nil {
				out.saveFailures++
			}
		}
		if err != nil {
			if out.Failed == nil {
				out.Failed = make(map[types.ContentType]string)
			}
			out.Failed[ct] = err.Error()
			c.metrics.RecordConceptContent(string(ct), "failed")
			c.logger.Warn("concept content failed",
				zap.String("task_id", job.TaskID),
				zap.String("concept_id", a.Concept.ConceptID),
				zap.String("content_type", string(ct)),
				zap.Error(err))
			continue
		}
		out.Completed = append(out.Completed, ct)
		c.metrics.RecordConceptContent(string(ct), "completed")
	}
	return out
}

// generateOne 调用一类内容的 Agent；Agent 的 panic 转为该类内容的失败，不影响其他概念
func (c *Coordinator) generateOne(ctx context.Context, ct types.ContentType, input agent.ConceptInput, a Assignment) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			goerr := goerrors.Wrap(r, 2)
			payload, err = nil, fmt.Errorf("%s agent panic: %w", ct, goerr)
			c.logger.Error("content agent panicked",
				zap.String("task_id", input.TaskID),
				zap.String("concept_id", input.Concept.ConceptID),
				zap.String("content_type", string(ct)),
				zap.Any("panic", r),
				zap.String("stack", string(goerr.Stack())))
		}
	}()

	switch ct {
	case types.ContentTutorial:
		return c.agents.Tutorial.Execute(ctx, input)
	case types.ContentResources:
		return c.agents.Resources.Execute(ctx, agent.ResourceInput{
			ConceptInput: input,
			APIKey:       a.Key,
			KeyIndex:     a.KeyIndex,
		})
	case types.ContentQuiz:
		return c.agents.Quiz.Execute(ctx, input)
	default:
		return nil, fmt.Errorf("unknown content type %q", ct)
	}
}

func (c *Coordinator) save(ctx context.Context, roadmapID, conceptID string, ct types.ContentType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ct, err)
	}
	return c.store.Save(ctx, &persistence.ConceptContent{
		RoadmapID:   roadmapID,
		ConceptID:   conceptID,
		ContentType: ct,
		Payload:     data,
	})
}

// checkStorage 所有保存均失败且存储 Ping 失败时，视为基础设施故障
func (c *Coordinator) checkStorage(ctx context.Context, outcomes []ConceptOutcome) error {
	attempts, failures := 0, 0
	for _, o := range outcomes {
		attempts += o.saveAttempts
		failures += o.saveFailures
	}
	if attempts == 0 || failures < attempts {
		return nil
	}
	if err := c.store.Ping(ctx); err != nil {
		return types.NewError(types.ErrStorageUnavailable, "content store unavailable").
			WithCause(err).
			WithRetryable(true)
	}
	return nil
}

// aggregate 汇总所有概念结果
func aggregate(assignments []Assignment, outcomes []ConceptOutcome, enabled []types.ContentType) *Result {
	result := &Result{
		FailedConcepts: []string{},
		Summary:        make(ExecutionSummary, len(enabled)),
		KeyAllocation:  make(map[string]int, len(assignments)),
		Outcomes:       outcomes,
	}
	for _, ct := range enabled {
		result.Summary[ct] = &TypeSummary{Completed: []string{}, Failed: []string{}}
	}

	failed := make(map[string]struct{})
	for i, o := range outcomes {
		result.KeyAllocation[assignments[i].Concept.ConceptID] = assignments[i].KeyIndex
		for _, ct := range o.Completed {
			result.Summary[ct].Completed = append(result.Summary[ct].Completed, o.ConceptID)
		}
		for ct := range o.Failed {
			result.Summary[ct].Failed = append(result.Summary[ct].Failed, o.ConceptID)
			failed[o.ConceptID] = struct{}{}
		}
	}

	for id := range failed {
		result.FailedConcepts = append(result.FailedConcepts, id)
	}
	sort.Strings(result.FailedConcepts)
	for _, s := range result.Summary {
		sort.Strings(s.Completed)
		sort.Strings(s.Failed)
		s.CompletedCount = len(s.Completed)
		s.FailedCount = len(s.Failed)
	}

	result.Status = persistence.TaskStatusCompleted
	if len(result.FailedConcepts) > 0 {
		result.Status = persistence.TaskStatusPartialFailure
	}
	return result
}
