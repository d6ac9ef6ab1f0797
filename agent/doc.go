// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package agent 定义内容生成协作方（Agent）的类型化契约与通用装饰器。

# 概述

每一类 Agent 都是一个 Agent[I, O]：Execute(ctx, I) (O, error)。
工作流核心只通过这些接口调用外部能力，Prompt 与 LLM 调用细节不在本包范围内。
Agent 可能失败或很慢；所有 Agent 都必须能以相同输入安全地重复调用，
因为任务从检查点恢复时会重新执行中断的阶段。

# 分类

  - IntentAnalyzer      — 需求分析
  - CurriculumDesigner  — 课程框架设计
  - StructureValidator  — 结构校验
  - RoadmapEditor       — 框架修订
  - TutorialGenerator   — 教程生成
  - ResourceRecommender — 资源推荐（使用分配到的外部 Key）
  - QuizGenerator       — 测验生成

# 装饰器

  - WithRetry:       限流类错误指数退避重试（cenkalti/backoff）
  - WithIdempotency: 以输入哈希缓存输出，重复调用直接返回缓存结果
  - RemoteClient:    通过 HTTP 调用独立部署的 Agent 服务
*/
package agent
