// Package fixtures 提供测试用的请求、意图与课程框架样例。
package fixtures

import (
	"fmt"

	"github.com/BaSui01/roadmapflow/types"
)

// UserRequest 返回一个合法的用户请求
func UserRequest() types.UserRequest {
	return types.UserRequest{
		UserID:                "user-1",
		LearningGoal:          "Learn Go for backend services",
		CurrentLevel:          "beginner",
		AvailableHoursPerWeek: 8,
		Language:              "en",
	}
}

// Intent 返回与 UserRequest 对应的需求分析
func Intent() *types.IntentAnalysis {
	return &types.IntentAnalysis{
		ParsedGoal:        "backend development with Go",
		KeyTechnologies:   []string{"go", "http", "sql"},
		DifficultyProfile: "beginner",
		TimeConstraint:    "8h/week",
		Title:             "Go Backend Roadmap",
	}
}

// ConceptIDs 返回 Framework(n) 中的概念 ID，按文档顺序
func ConceptIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i+1)
	}
	return ids
}

// Framework 构造包含 n 个概念的框架：每个模块最多 2 个概念，每个阶段最多 2 个模块。
func Framework(n int) *types.RoadmapFramework {
	f := &types.RoadmapFramework{Title: "Go Backend Roadmap"}
	ids := ConceptIDs(n)
	for i := 0; i < len(ids); i += 4 {
		stage := types.RoadmapStage{
			StageID: fmt.Sprintf("s%d", i/4+1),
			Name:    fmt.Sprintf("Stage %d", i/4+1),
			Order:   i/4 + 1,
		}
		for j := i; j < i+4 && j < len(ids); j += 2 {
			module := types.RoadmapModule{
				ModuleID: fmt.Sprintf("m%d", j/2+1),
				Name:     fmt.Sprintf("Module %d", j/2+1),
			}
			for k := j; k < j+2 && k < len(ids); k++ {
				module.Concepts = append(module.Concepts, types.Concept{
					ConceptID:      ids[k],
					Name:           "Concept " + ids[k],
					EstimatedHours: 2,
				})
			}
			stage.Modules = append(stage.Modules, module)
		}
		f.Stages = append(f.Stages, stage)
	}
	return f
}

// Valid 返回通过校验的结果
func Valid() *types.ValidationResult {
	return &types.ValidationResult{IsValid: true, OverallScore: 0.9}
}

// Invalid 返回包含一个严重问题的校验结果
func Invalid() *types.ValidationResult {
	return &types.ValidationResult{
		IsValid: false,
		Issues: []types.ValidationIssue{{
			Severity:   "critical",
			Location:   "stages[0]",
			Issue:      "missing prerequisites",
			Suggestion: "add an introduction module",
		}},
		OverallScore: 0.4,
	}
}
