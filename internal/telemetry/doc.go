// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，为 roadmapflow 的
// API 中间件与工作流执行器提供 TracerProvider 和 MeterProvider。
// 禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
