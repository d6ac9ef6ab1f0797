package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/roadmapflow/agent"
	"github.com/BaSui01/roadmapflow/testutil/fixtures"
	"github.com/BaSui01/roadmapflow/types"
)

// ErrInjected 注入的 Agent 失败
var ErrInjected = errors.New("injected agent failure")

// AgentSet 一组可编排的模拟 Agent，默认行为走完整条 happy path
type AgentSet struct {
	Intent    *MockAgent[types.UserRequest, *types.IntentAnalysis]
	Designer  *MockAgent[agent.DesignInput, *types.RoadmapFramework]
	Validator *MockAgent[agent.ValidateInput, *types.ValidationResult]
	Editor    *MockAgent[agent.EditInput, *types.RoadmapFramework]
	Tutorial  *MockAgent[agent.ConceptInput, *types.Tutorial]
	Resources *MockAgent[agent.ResourceInput, *types.ResourceList]
	Quiz      *MockAgent[agent.ConceptInput, *types.Quiz]

	mu          sync.Mutex
	validations []bool
	failing     map[types.ContentType]map[string]bool
}

// NewAgentSet 创建设计出 concepts 个概念的模拟 Agent 组
func NewAgentSet(concepts int) *AgentSet {
	s := &AgentSet{
		Intent:    NewMockAgent[types.UserRequest, *types.IntentAnalysis]().WithOutput(fixtures.Intent()),
		Designer:  NewMockAgent[agent.DesignInput, *types.RoadmapFramework](),
		Validator: NewMockAgent[agent.ValidateInput, *types.ValidationResult](),
		Editor:    NewMockAgent[agent.EditInput, *types.RoadmapFramework](),
		Tutorial:  NewMockAgent[agent.ConceptInput, *types.Tutorial](),
		Resources: NewMockAgent[agent.ResourceInput, *types.ResourceList](),
		Quiz:      NewMockAgent[agent.ConceptInput, *types.Quiz](),
		failing:   make(map[types.ContentType]map[string]bool),
	}

	s.Designer.WithFunc(func(_ context.Context, _ int, in agent.DesignInput) (*types.RoadmapFramework, error) {
		f := fixtures.Framework(concepts)
		f.RoadmapID = in.RoadmapID
		return f, nil
	})
	s.Editor.WithFunc(func(_ context.Context, call int, in agent.EditInput) (*types.RoadmapFramework, error) {
		f := fixtures.Framework(concepts)
		f.RoadmapID = in.Framework.RoadmapID
		f.Title = in.Framework.Title + " (rev)"
		return f, nil
	})
	s.Validator.WithFunc(func(_ context.Context, call int, _ agent.ValidateInput) (*types.ValidationResult, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if call <= len(s.validations) && !s.validations[call-1] {
			return fixtures.Invalid(), nil
		}
		return fixtures.Valid(), nil
	})
	s.Tutorial.WithFunc(func(_ context.Context, _ int, in agent.ConceptInput) (*types.Tutorial, error) {
		if s.fails(types.ContentTutorial, in.Concept.ConceptID) {
			return nil, ErrInjected
		}
		return &types.Tutorial{ConceptID: in.Concept.ConceptID, Title: in.Concept.Name, Body: "body"}, nil
	})
	s.Resources.WithFunc(func(_ context.Context, _ int, in agent.ResourceInput) (*types.ResourceList, error) {
		if s.fails(types.ContentResources, in.Concept.ConceptID) {
			return nil, ErrInjected
		}
		return &types.ResourceList{
			ConceptID: in.Concept.ConceptID,
			Resources: []types.Resource{{Title: "Go docs", URL: "https://go.dev/doc/"}},
			KeyIndex:  in.KeyIndex,
		}, nil
	})
	s.Quiz.WithFunc(func(_ context.Context, _ int, in agent.ConceptInput) (*types.Quiz, error) {
		if s.fails(types.ContentQuiz, in.Concept.ConceptID) {
			return nil, ErrInjected
		}
		return &types.Quiz{
			ConceptID: in.Concept.ConceptID,
			Questions: []types.QuizQuestion{{Question: "q?", Answer: "a"}},
		}, nil
	})
	return s
}

// WithValidations 按调用顺序编排校验结果；超出部分视为通过
func (s *AgentSet) WithValidations(results ...bool) *AgentSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations = results
	return s
}

// FailContent 让指定概念的某类内容生成失败
func (s *AgentSet) FailContent(ct types.ContentType, conceptIDs ...string) *AgentSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[ct] == nil {
		s.failing[ct] = make(map[string]bool)
	}
	for _, id := range conceptIDs {
		s.failing[ct][id] = true
	}
	return s
}

func (s *AgentSet) fails(ct types.ContentType, conceptID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failing[ct][conceptID]
}

// Set 转换为 agent.Set
func (s *AgentSet) Set() agent.Set {
	return agent.Set{
		Intent:    s.Intent,
		Designer:  s.Designer,
		Validator: s.Validator,
		Editor:    s.Editor,
		Tutorial:  s.Tutorial,
		Resources: s.Resources,
		Quiz:      s.Quiz,
	}
}
