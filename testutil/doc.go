// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 roadmapflow 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 测试后端: NewTestDB（纯 Go 内存 SQLite）/ NewTestRedis（miniredis）
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: 泛型 MockAgent、可编排的 AgentSet（校验结果序列、
    按概念注入内容失败）、EventRecorder 与 MockNotifier
  - testutil/fixtures: 用户请求、需求分析、N 个概念的课程框架、
    校验结果样例

# 使用示例

	agents := mocks.NewAgentSet(5).WithValidations(false, true)
	agents.FailContent(types.ContentQuiz, "c3")
	set := agents.Set()
*/
package testutil
