// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 roadmapflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、workflow、content、
persistence、api 等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - UserRequest       — 用户提交的学习需求（创建后不可变）
  - IntentAnalysis    — 需求分析阶段产出
  - RoadmapFramework  — 课程框架（Stage → Module → Concept 三层结构）
  - ValidationResult  — 结构校验结果（IsValid 为路由依据，而非错误）
  - Tutorial / ResourceList / Quiz — 单个 Concept 的三类内容产出
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithTraceID / WithTaskID / WithUserID
  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
*/
package types
