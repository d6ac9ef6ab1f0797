// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
连接数限制与优雅关闭。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。API 服务器与 metrics 服务器各持有一个 Manager。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/Shutdown/Wait 等生命周期方法。
  - Config：服务器配置，包含监听地址、读写超时、空闲超时、
    最大请求头大小、最大连接数与优雅关闭超时。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 连接限制：MaxConnections > 0 时用 netutil.LimitListener 包装监听器。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空与连接释放；
    Wait 在 ctx 结束或服务异常时触发关闭。
  - 错误传播：Errors() 返回异步错误通道。
*/
package server
