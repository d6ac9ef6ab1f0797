// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 roadmapflow HTTP API 的请求处理器实现。

# 概述

handlers 包实现任务提交、状态查询、人工审核、取消、进度事件流以及
健康检查端点。所有 Handler 均遵循标准 net/http 接口，路由使用
Go 1.22 的 ServeMux 方法与路径模式。

# 核心类型

  - TaskHandler      — 任务提交、查询、列表、审核与取消
  - EventsHandler    — 基于 WebSocket 的任务进度推送
  - HealthHandler    — 存活（/healthz）、就绪（/readyz）与负载视图（/api/v1/status）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - StatusRecorder   — 记录状态码与响应字节数，供访问日志与追踪使用
  - Dependency       — 就绪检查的后端（任务存储、检查点存储、Redis、数据库），可标记为可选

# 主要能力

  - 统一响应格式：WriteSuccess / WriteAccepted / WriteServiceError，响应带 request_id
  - 存储层与队列哨兵错误（ErrNotFound、ErrStatusConflict、ErrQueueClosed）映射为 API 错误码
  - 请求验证：DecodeJSON（Content-Type、1 MB 限制、拒绝未知字段与多余数据）
  - 负载视图：队列深度、按状态统计的未结束任务、挂起待审核任务与 worker 状态
  - 事件流：首条消息为任务快照，任务进入终态后正常关闭连接
*/
package handlers
