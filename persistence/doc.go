// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供任务记录、检查点与外部资源 Key 的持久化抽象及多后端实现。

# 概述

工作流核心只依赖本包定义的窄接口，存储技术可在 memory、redis、
database（GORM：postgres / mysql / sqlite）与 mongo 之间切换。
所有存储都保证按 task_id 的单条原子写，不需要跨任务加锁。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - TaskStore: 任务记录（对外可见的状态投影），支持创建、状态更新与查询。
  - CheckpointStore: 以 task_id 为键的 WorkflowState 快照，Put / Get。
  - KeyStore: 配额受限的外部 API Key 池，只读查询。
  - ExecutionLogStore: 面向运维的执行日志。
  - RoadmapStore: roadmap_id 唯一性校验与框架持久化。
  - ContentStore: 每个 Concept 的教程、资源与测验产出。

# 后端

  - Memory: 开发与测试默认后端
  - Redis: 分布式部署，任务索引使用 Sorted Set
  - Database: 基于 GORM，表结构由 internal/migration 管理
  - Mongo: 仅提供检查点存储
*/
package persistence
