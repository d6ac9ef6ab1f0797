// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 实现学习路线生成的阶段式工作流：状态、路由、
阶段执行器、统一错误处理以及检查点恢复。

# 阶段

	intent_analysis → curriculum_design → validate ⇄ edit → human_review → content_generation

外加三个伪状态：human_review_pending（等待人工决策的挂起点）、
completed 与 failed。

# 核心类型

  - State：可 JSON 序列化的工作流状态，作为检查点整体写入
  - Router：纯函数路由，NextStage(state) 只依赖状态与配置
  - NodeRunner：每个阶段一个，执行一次 Agent 调用并写回产出，从不决定下一阶段
  - ErrorHandler：阶段失败的统一处理（日志、执行日志、通知、任务状态）
  - Executor：阶段循环。每个阶段开始前写检查点，崩溃后从检查点重跑进行中的阶段
  - StateManager：实时阶段的进程内记录，作为检查点之外的状态查询回退

# 人工审核

human_review 阶段递增 review_round；外部审批写入 human_approved 并把
decision_round 盖章为当前 review_round。只有两者相等时决策才生效，
因此早先轮次的决策不会在新一轮审核中被重复应用。
*/
package workflow
