// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package redisclient 管理 roadmapflow 进程共享的 Redis 连接。
//
// 作业队列、任务存储、检查点存储、幂等缓存与跨进程通知都复用
// Manager.Client() 返回的同一个 go-redis 客户端。Manager 负责连接验证、
// 可选 TLS（internal/tlsutil）、周期性健康检查与连接池统计。
package redisclient
